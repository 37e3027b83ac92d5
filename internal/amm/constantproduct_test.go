package amm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestConstantProductSimulateSwap(t *testing.T) {
	tokenA := common.HexToAddress("0x1111")
	tokenB := common.HexToAddress("0x2222")

	pool := &ConstantProductPool{
		PoolAddress: common.HexToAddress("0x9999"),
		TokenA:      tokenA,
		TokenB:      tokenB,
		ReserveA:    big.NewInt(1_000_000),
		ReserveB:    big.NewInt(2_000_000),
		Fee:         3000, // 0.3%
	}

	// amountOut = 2e6 * in' / (1e6 + in') with in' = 100_000 * 0.997 = 99_700
	out, err := pool.SimulateSwap(tokenA, big.NewInt(100_000))
	require.NoError(t, err)
	require.Equal(t, int64(181_322), out.Int64())

	// Reverse direction uses the other reserve ordering.
	out, err = pool.SimulateSwap(tokenB, big.NewInt(100_000))
	require.NoError(t, err)
	require.Equal(t, int64(47_482), out.Int64())
}

func TestConstantProductSimulateSwapZeroFee(t *testing.T) {
	tokenA := common.HexToAddress("0x1111")
	pool := &ConstantProductPool{
		TokenA:   tokenA,
		TokenB:   common.HexToAddress("0x2222"),
		ReserveA: big.NewInt(1000),
		ReserveB: big.NewInt(1000),
	}

	out, err := pool.SimulateSwap(tokenA, big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, int64(500), out.Int64())
}

func TestConstantProductSimulateSwapErrors(t *testing.T) {
	pool := &ConstantProductPool{
		TokenA: common.HexToAddress("0x1111"),
		TokenB: common.HexToAddress("0x2222"),
	}

	_, err := pool.SimulateSwap(common.HexToAddress("0x3333"), big.NewInt(1))
	require.ErrorIs(t, err, ErrTokenNotInPool)

	// Unhydrated pool has no reserves.
	_, err = pool.SimulateSwap(pool.TokenA, big.NewInt(1))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestConstantProductSyncOnEvent(t *testing.T) {
	pool := &ConstantProductPool{
		TokenA:   common.HexToAddress("0x1111"),
		TokenB:   common.HexToAddress("0x2222"),
		ReserveA: big.NewInt(1),
		ReserveB: big.NewInt(1),
	}

	reserve0 := big.NewInt(1_000_000_000_000_000_000)
	reserve1 := big.NewInt(2_000_000_000_000_000_000)
	data := append(
		common.LeftPadBytes(reserve0.Bytes(), 32),
		common.LeftPadBytes(reserve1.Bytes(), 32)...,
	)

	err := pool.SyncOnEvent(types.Log{
		Topics: []common.Hash{SyncEventSignature},
		Data:   data,
	})
	require.NoError(t, err)
	require.Equal(t, reserve0, pool.ReserveA)
	require.Equal(t, reserve1, pool.ReserveB)
}

func TestConstantProductSyncOnEventWrongTopic(t *testing.T) {
	pool := &ConstantProductPool{}

	err := pool.SyncOnEvent(types.Log{
		Topics: []common.Hash{SwapEventSignature},
		Data:   make([]byte, 64),
	})
	require.ErrorIs(t, err, ErrInvalidEventSignature)
}

func TestNewEmptyPoolFromPairCreatedLog(t *testing.T) {
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 100, 3000)

	token0 := common.HexToAddress("0x1111")
	token1 := common.HexToAddress("0x2222")
	pair := common.HexToAddress("0x3333")

	data := append(
		common.LeftPadBytes(pair.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(7).Bytes(), 32)...,
	)

	pool, err := factory.NewEmptyPoolFromLog(types.Log{
		Topics: []common.Hash{
			PairCreatedEventSignature,
			common.BytesToHash(common.LeftPadBytes(token0.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(token1.Bytes(), 32)),
		},
		Data:        data,
		BlockNumber: 120,
	})
	require.NoError(t, err)

	cp, ok := pool.(*ConstantProductPool)
	require.True(t, ok)
	require.Equal(t, pair, cp.PoolAddress)
	require.Equal(t, token0, cp.TokenA)
	require.Equal(t, token1, cp.TokenB)
	require.Nil(t, cp.ReserveA, "numeric state stays zero until hydration")
}

func TestNewEmptyPoolFromLogWrongSignature(t *testing.T) {
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 100, 3000)

	_, err := factory.NewEmptyPoolFromLog(types.Log{
		Topics: []common.Hash{PoolCreatedEventSignature, {}, {}},
	})
	require.ErrorIs(t, err, ErrInvalidEventSignature)
}
