package amm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MidPrice returns the pool's current mid price quoted as token B (or the
// underlying asset, for vaults) per token A, normalized by token decimals.
func MidPrice(pool AMM) (decimal.Decimal, error) {
	switch p := pool.(type) {
	case *ConstantProductPool:
		if p.ReserveA == nil || p.ReserveB == nil || p.ReserveA.Sign() == 0 {
			return decimal.Zero, ErrDivisionByZero
		}
		reserveA := scaleByDecimals(p.ReserveA, p.TokenADecimals)
		reserveB := scaleByDecimals(p.ReserveB, p.TokenBDecimals)
		if reserveA.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return reserveB.Div(reserveA), nil

	case *ConcentratedLiquidityPool:
		if p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() == 0 {
			return decimal.Zero, ErrDivisionByZero
		}
		// price = (sqrtPriceX96 / 2^96)^2, shifted by the decimals gap.
		sqrt := decimal.NewFromBigInt(p.SqrtPriceX96, 0).Div(decimal.NewFromBigInt(q96, 0))
		price := sqrt.Mul(sqrt)
		shift := int32(p.TokenADecimals) - int32(p.TokenBDecimals)
		return price.Shift(shift), nil

	case *VaultSharePool:
		if p.TotalSupply == nil || p.TotalSupply.Sign() == 0 {
			return decimal.Zero, ErrDivisionByZero
		}
		supply := scaleByDecimals(p.TotalSupply, p.VaultTokenDecimals)
		assets := scaleByDecimals(p.TotalAssets, p.AssetTokenDecimals)
		if supply.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return assets.Div(supply), nil

	default:
		return decimal.Zero, ErrPairDoesNotExist
	}
}

func scaleByDecimals(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}
