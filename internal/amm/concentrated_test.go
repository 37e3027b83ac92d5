package amm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestConcentratedSyncFromSwap(t *testing.T) {
	pool := &ConcentratedLiquidityPool{
		TokenA: common.HexToAddress("0x1111"),
		TokenB: common.HexToAddress("0x2222"),
	}

	newSqrtPrice := new(big.Int).Lsh(big.NewInt(1), 96) // price 1.0
	newLiquidity := big.NewInt(5_000_000)

	data := make([]byte, 0, 5*32)
	data = append(data, common.LeftPadBytes(big.NewInt(100).Bytes(), 32)...)  // amount0
	data = append(data, common.LeftPadBytes(big.NewInt(200).Bytes(), 32)...)  // amount1
	data = append(data, common.LeftPadBytes(newSqrtPrice.Bytes(), 32)...)     // sqrtPriceX96
	data = append(data, common.LeftPadBytes(newLiquidity.Bytes(), 32)...)     // liquidity
	data = append(data, tickTopic(-5).Bytes()...) // tick -5, two's complement

	err := pool.SyncOnEvent(types.Log{
		Topics: []common.Hash{
			SwapEventSignature,
			common.HexToHash("0x1"), // sender
			common.HexToHash("0x2"), // recipient
		},
		Data: data,
	})
	require.NoError(t, err)
	require.Equal(t, newSqrtPrice, pool.SqrtPriceX96)
	require.Equal(t, newLiquidity, pool.Liquidity)
	require.Equal(t, int32(-5), pool.Tick)
}

func TestConcentratedSyncFromMintAndBurn(t *testing.T) {
	pool := &ConcentratedLiquidityPool{
		Tick:      0,
		Liquidity: big.NewInt(1000),
	}

	mintData := make([]byte, 0, 4*32)
	mintData = append(mintData, common.LeftPadBytes(common.HexToAddress("0x9").Bytes(), 32)...) // sender
	mintData = append(mintData, common.LeftPadBytes(big.NewInt(500).Bytes(), 32)...)           // amount
	mintData = append(mintData, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)             // amount0
	mintData = append(mintData, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)             // amount1

	// Position straddles the current tick, so in-range liquidity grows.
	err := pool.SyncOnEvent(types.Log{
		Topics: []common.Hash{
			MintEventSignature,
			common.HexToHash("0x1"),   // owner
			tickTopic(-60),            // tickLower
			tickTopic(60),             // tickUpper
		},
		Data: mintData,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1500), pool.Liquidity.Int64())
	require.Equal(t, int64(500), pool.LiquidityNet[-60].Int64())
	require.Equal(t, int64(-500), pool.LiquidityNet[60].Int64())

	burnData := make([]byte, 0, 3*32)
	burnData = append(burnData, common.LeftPadBytes(big.NewInt(500).Bytes(), 32)...) // amount
	burnData = append(burnData, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)   // amount0
	burnData = append(burnData, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)   // amount1

	err = pool.SyncOnEvent(types.Log{
		Topics: []common.Hash{
			BurnEventSignature,
			common.HexToHash("0x1"), // owner
			tickTopic(-60),
			tickTopic(60),
		},
		Data: burnData,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), pool.Liquidity.Int64())
	require.Equal(t, int64(0), pool.LiquidityNet[-60].Int64())
}

func TestConcentratedSimulateSwapWithinRange(t *testing.T) {
	tokenA := common.HexToAddress("0x1111")
	tokenB := common.HexToAddress("0x2222")

	// Price 1.0, deep liquidity: a small swap returns almost the input.
	pool := &ConcentratedLiquidityPool{
		TokenA:       tokenA,
		TokenB:       tokenB,
		Liquidity:    new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)),
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
	}

	out, err := pool.SimulateSwap(tokenA, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Greater(t, out.Int64(), int64(999_000))
	require.LessOrEqual(t, out.Int64(), int64(1_000_000))

	out, err = pool.SimulateSwap(tokenB, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Greater(t, out.Int64(), int64(999_000))
	require.LessOrEqual(t, out.Int64(), int64(1_000_000))
}

func TestConcentratedSimulateSwapNoLiquidity(t *testing.T) {
	pool := &ConcentratedLiquidityPool{
		TokenA:       common.HexToAddress("0x1111"),
		TokenB:       common.HexToAddress("0x2222"),
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
	}

	_, err := pool.SimulateSwap(pool.TokenA, big.NewInt(1))
	require.ErrorIs(t, err, ErrNoInitializedTick)
}

func TestNewEmptyPoolFromPoolCreatedLog(t *testing.T) {
	factory := NewConcentratedLiquidityFactory(common.HexToAddress("0xBBBB"), 200)

	token0 := common.HexToAddress("0x1111")
	token1 := common.HexToAddress("0x2222")
	poolAddr := common.HexToAddress("0x4444")

	data := append(
		common.LeftPadBytes(big.NewInt(60).Bytes(), 32), // tickSpacing
		common.LeftPadBytes(poolAddr.Bytes(), 32)...,
	)

	pool, err := factory.NewEmptyPoolFromLog(types.Log{
		Topics: []common.Hash{
			PoolCreatedEventSignature,
			common.BytesToHash(common.LeftPadBytes(token0.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(token1.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(big.NewInt(3000).Bytes(), 32)), // fee
		},
		Data: data,
	})
	require.NoError(t, err)

	cl, ok := pool.(*ConcentratedLiquidityPool)
	require.True(t, ok)
	require.Equal(t, poolAddr, cl.PoolAddress)
	require.Equal(t, token0, cl.TokenA)
	require.Equal(t, token1, cl.TokenB)
	require.Equal(t, uint32(3000), cl.Fee)
	require.Equal(t, int32(60), cl.TickSpacing)
	require.Nil(t, cl.Liquidity)
}

func TestTickWord(t *testing.T) {
	require.Equal(t, int16(0), tickWord(0, 60))
	require.Equal(t, int16(0), tickWord(60*255, 60))
	require.Equal(t, int16(1), tickWord(60*256, 60))
	require.Equal(t, int16(-1), tickWord(-60, 60))
	require.Equal(t, int16(-1), tickWord(-1, 60))
}

func tickTopic(tick int64) common.Hash {
	v := big.NewInt(tick)
	if tick < 0 {
		v = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BytesToHash(common.LeftPadBytes(v.Bytes(), 32))
}
