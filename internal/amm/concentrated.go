package amm

import (
	"context"
	"math/big"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Concentrated-liquidity pool event signatures.
var (
	SwapEventSignature = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
	MintEventSignature = crypto.Keccak256Hash([]byte("Mint(address,address,int24,int24,uint128,uint256,uint256)"))
	BurnEventSignature = crypto.Keccak256Hash([]byte("Burn(address,int24,int24,uint128,uint256,uint256)"))
)

var (
	swapEventArgs abi.Arguments
	mintEventArgs abi.Arguments
	burnEventArgs abi.Arguments
	q96           = new(big.Int).Lsh(big.NewInt(1), 96)
)

func init() {
	int256Type, _ := abi.NewType("int256", "", nil)
	uint160Type, _ := abi.NewType("uint160", "", nil)
	uint128Type, _ := abi.NewType("uint128", "", nil)
	int24Type, _ := abi.NewType("int24", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)

	// Non-indexed fields only; the indexed ones ride in the topics.
	swapEventArgs = abi.Arguments{
		{Type: int256Type, Name: "amount0"},
		{Type: int256Type, Name: "amount1"},
		{Type: uint160Type, Name: "sqrtPriceX96"},
		{Type: uint128Type, Name: "liquidity"},
		{Type: int24Type, Name: "tick"},
	}
	mintEventArgs = abi.Arguments{
		{Type: addressType, Name: "sender"},
		{Type: uint128Type, Name: "amount"},
		{Type: uint256Type, Name: "amount0"},
		{Type: uint256Type, Name: "amount1"},
	}
	burnEventArgs = abi.Arguments{
		{Type: uint128Type, Name: "amount"},
		{Type: uint256Type, Name: "amount0"},
		{Type: uint256Type, Name: "amount1"},
	}
}

// ConcentratedLiquidityPool is a tick-based pool. Liquidity applies within
// tick ranges; SqrtPriceX96 is the current price as a Q64.96 fixed point.
type ConcentratedLiquidityPool struct {
	PoolAddress    common.Address
	TokenA         common.Address
	TokenB         common.Address
	TokenADecimals uint8
	TokenBDecimals uint8
	Liquidity      *big.Int
	SqrtPriceX96   *big.Int
	Tick           int32
	TickSpacing    int32
	Fee            uint32

	// TickBitmap maps a word index to its 256-bit initialized-tick bitmap.
	TickBitmap map[int16]*big.Int
	// LiquidityNet maps an initialized tick to its net liquidity change.
	LiquidityNet map[int32]*big.Int
}

func (p *ConcentratedLiquidityPool) Address() common.Address {
	return p.PoolAddress
}

func (p *ConcentratedLiquidityPool) Tokens() []common.Address {
	return []common.Address{p.TokenA, p.TokenB}
}

func (p *ConcentratedLiquidityPool) Kind() Kind {
	return KindConcentratedLiquidity
}

func (p *ConcentratedLiquidityPool) PopulateData(ctx context.Context, backend chain.Backend, block *big.Int) error {
	return populateConcentratedBatch(ctx, backend, []*ConcentratedLiquidityPool{p}, block)
}

// SyncOnEvent applies a Swap, Mint or Burn log to the pool state.
func (p *ConcentratedLiquidityPool) SyncOnEvent(log types.Log) error {
	if len(log.Topics) == 0 {
		return &EventLogError{Err: ErrInvalidEventSignature}
	}

	switch log.Topics[0] {
	case SwapEventSignature:
		return p.syncFromSwap(log)
	case MintEventSignature:
		return p.syncFromMint(log)
	case BurnEventSignature:
		return p.syncFromBurn(log)
	default:
		return &EventLogError{Log: log.Topics[0], Err: ErrInvalidEventSignature}
	}
}

func (p *ConcentratedLiquidityPool) syncFromSwap(log types.Log) error {
	values, err := swapEventArgs.Unpack(log.Data)
	if err != nil {
		return &EventLogError{Log: log.Topics[0], Err: err}
	}

	p.SqrtPriceX96 = values[2].(*big.Int)
	p.Liquidity = values[3].(*big.Int)
	p.Tick = int32(values[4].(*big.Int).Int64())
	return nil
}

func (p *ConcentratedLiquidityPool) syncFromMint(log types.Log) error {
	if len(log.Topics) < 4 {
		return &EventLogError{Log: log.Topics[0], Err: ErrInvalidEventSignature}
	}

	values, err := mintEventArgs.Unpack(log.Data)
	if err != nil {
		return &EventLogError{Log: log.Topics[0], Err: err}
	}

	tickLower := int24FromTopic(log.Topics[2])
	tickUpper := int24FromTopic(log.Topics[3])
	amount := values[1].(*big.Int)

	p.applyLiquidityDelta(tickLower, tickUpper, amount)
	return nil
}

func (p *ConcentratedLiquidityPool) syncFromBurn(log types.Log) error {
	if len(log.Topics) < 4 {
		return &EventLogError{Log: log.Topics[0], Err: ErrInvalidEventSignature}
	}

	values, err := burnEventArgs.Unpack(log.Data)
	if err != nil {
		return &EventLogError{Log: log.Topics[0], Err: err}
	}

	tickLower := int24FromTopic(log.Topics[2])
	tickUpper := int24FromTopic(log.Topics[3])
	amount := new(big.Int).Neg(values[0].(*big.Int))

	p.applyLiquidityDelta(tickLower, tickUpper, amount)
	return nil
}

// applyLiquidityDelta adjusts in-range liquidity and the per-tick net
// liquidity at both boundaries of the position.
func (p *ConcentratedLiquidityPool) applyLiquidityDelta(tickLower, tickUpper int32, delta *big.Int) {
	if p.LiquidityNet == nil {
		p.LiquidityNet = make(map[int32]*big.Int)
	}

	lower := p.LiquidityNet[tickLower]
	if lower == nil {
		lower = new(big.Int)
	}
	p.LiquidityNet[tickLower] = new(big.Int).Add(lower, delta)

	upper := p.LiquidityNet[tickUpper]
	if upper == nil {
		upper = new(big.Int)
	}
	p.LiquidityNet[tickUpper] = new(big.Int).Sub(upper, delta)

	if tickLower <= p.Tick && p.Tick < tickUpper {
		if p.Liquidity == nil {
			p.Liquidity = new(big.Int)
		}
		p.Liquidity = new(big.Int).Add(p.Liquidity, delta)
	}
}

// SimulateSwap quotes an exact-input swap against the current in-range
// liquidity. The quote holds within the active tick range; a swap large
// enough to cross into the next initialized tick needs the full tick-walk
// simulator.
func (p *ConcentratedLiquidityPool) SimulateSwap(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if tokenIn != p.TokenA && tokenIn != p.TokenB {
		return nil, ErrTokenNotInPool
	}
	if p.Liquidity == nil || p.Liquidity.Sign() == 0 {
		return nil, ErrNoInitializedTick
	}
	if p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	amountInAfterFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-int64(p.Fee)))
	amountInAfterFee.Div(amountInAfterFee, big.NewInt(feeDenominator))

	liquidity := p.Liquidity
	sqrtP := p.SqrtPriceX96

	if tokenIn == p.TokenA {
		// Price moves down: sqrtNext = L*sqrtP*Q96 / (L*Q96 + in*sqrtP)
		numerator := new(big.Int).Mul(liquidity, sqrtP)
		numerator.Mul(numerator, q96)
		denominator := new(big.Int).Mul(liquidity, q96)
		denominator.Add(denominator, new(big.Int).Mul(amountInAfterFee, sqrtP))
		if denominator.Sign() == 0 {
			return nil, ErrDivisionByZero
		}
		sqrtNext := numerator.Div(numerator, denominator)

		// amountOut = L * (sqrtP - sqrtNext) / Q96
		diff := new(big.Int).Sub(sqrtP, sqrtNext)
		if diff.Sign() < 0 {
			return nil, ErrLiquidityUnderflow
		}
		out := new(big.Int).Mul(liquidity, diff)
		return out.Div(out, q96), nil
	}

	// Price moves up: sqrtNext = sqrtP + in*Q96/L
	sqrtNext := new(big.Int).Mul(amountInAfterFee, q96)
	sqrtNext.Div(sqrtNext, liquidity)
	sqrtNext.Add(sqrtNext, sqrtP)

	// amountOut = L * Q96 * (sqrtNext - sqrtP) / (sqrtNext * sqrtP)
	diff := new(big.Int).Sub(sqrtNext, sqrtP)
	out := new(big.Int).Mul(liquidity, q96)
	out.Mul(out, diff)
	denominator := new(big.Int).Mul(sqrtNext, sqrtP)
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return out.Div(out, denominator), nil
}

// int24FromTopic decodes a sign-extended int24 out of an indexed topic.
func int24FromTopic(h common.Hash) int32 {
	v := new(big.Int).SetBytes(h[:])
	if v.Bit(255) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return int32(v.Int64())
}
