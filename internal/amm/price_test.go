package amm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestMidPriceConstantProduct(t *testing.T) {
	pool := &ConstantProductPool{
		TokenA:         common.HexToAddress("0x1"),
		TokenB:         common.HexToAddress("0x2"),
		TokenADecimals: 18,
		TokenBDecimals: 6,
		// 2 WETH against 4000 USDC-like units: price 2000.
		ReserveA: new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000)),
		ReserveB: big.NewInt(4_000_000_000),
	}

	price, err := MidPrice(pool)
	require.NoError(t, err)
	require.Equal(t, "2000", price.String())
}

func TestMidPriceConcentrated(t *testing.T) {
	pool := &ConcentratedLiquidityPool{
		TokenA:         common.HexToAddress("0x1"),
		TokenB:         common.HexToAddress("0x2"),
		TokenADecimals: 18,
		TokenBDecimals: 18,
		// sqrtPriceX96 = 2 * 2^96 encodes a raw price of 4.
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(2), 96),
	}

	price, err := MidPrice(pool)
	require.NoError(t, err)
	require.Equal(t, "4", price.String())
}

func TestMidPriceVault(t *testing.T) {
	pool := &VaultSharePool{
		VaultToken:         common.HexToAddress("0x1"),
		AssetToken:         common.HexToAddress("0x2"),
		VaultTokenDecimals: 18,
		AssetTokenDecimals: 18,
		TotalSupply:        big.NewInt(1_000),
		TotalAssets:        big.NewInt(1_500),
	}

	price, err := MidPrice(pool)
	require.NoError(t, err)
	require.Equal(t, "1.5", price.String())
}

func TestMidPriceUnhydrated(t *testing.T) {
	_, err := MidPrice(&ConstantProductPool{})
	require.ErrorIs(t, err, ErrDivisionByZero)
}
