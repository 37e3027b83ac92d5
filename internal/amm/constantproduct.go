package amm

import (
	"context"
	"fmt"
	"math/big"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// feeDenominator is the parts-per-million base for pool fees (3000 = 0.3%).
const feeDenominator = 1_000_000

// SyncEventSignature is emitted by constant-product pools when reserves
// change: Sync(uint112,uint112).
var SyncEventSignature = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))

var syncEventArgs abi.Arguments

func init() {
	uint112Type, _ := abi.NewType("uint112", "", nil)
	syncEventArgs = abi.Arguments{
		{Type: uint112Type, Name: "reserve0"},
		{Type: uint112Type, Name: "reserve1"},
	}
}

// ConstantProductPool is an x*y=k pool holding reserves of two tokens.
type ConstantProductPool struct {
	PoolAddress    common.Address
	TokenA         common.Address
	TokenB         common.Address
	TokenADecimals uint8
	TokenBDecimals uint8
	ReserveA       *big.Int
	ReserveB       *big.Int
	Fee            uint32 // parts per million
}

func (p *ConstantProductPool) Address() common.Address {
	return p.PoolAddress
}

func (p *ConstantProductPool) Tokens() []common.Address {
	return []common.Address{p.TokenA, p.TokenB}
}

func (p *ConstantProductPool) Kind() Kind {
	return KindConstantProduct
}

func (p *ConstantProductPool) PopulateData(ctx context.Context, backend chain.Backend, block *big.Int) error {
	return populateConstantProductBatch(ctx, backend, []*ConstantProductPool{p}, block)
}

// SyncOnEvent applies a Sync log, replacing both reserves.
func (p *ConstantProductPool) SyncOnEvent(log types.Log) error {
	if len(log.Topics) == 0 || log.Topics[0] != SyncEventSignature {
		return &EventLogError{Log: topic0(log), Err: ErrInvalidEventSignature}
	}

	values, err := syncEventArgs.Unpack(log.Data)
	if err != nil {
		return &EventLogError{Log: log.Topics[0], Err: err}
	}

	p.ReserveA = values[0].(*big.Int)
	p.ReserveB = values[1].(*big.Int)
	return nil
}

// SimulateSwap quotes an exact-input swap using the constant-product formula
// with the pool fee applied to the input amount.
func (p *ConstantProductPool) SimulateSwap(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	var reserveIn, reserveOut *big.Int
	switch tokenIn {
	case p.TokenA:
		reserveIn, reserveOut = p.ReserveA, p.ReserveB
	case p.TokenB:
		reserveIn, reserveOut = p.ReserveB, p.ReserveA
	default:
		return nil, ErrTokenNotInPool
	}

	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 {
		return nil, fmt.Errorf("pool %s has no reserves: %w", p.PoolAddress.Hex(), ErrDivisionByZero)
	}

	// amountOut = reserveOut * amountIn * (1e6 - fee) / (reserveIn * 1e6 + amountIn * (1e6 - fee))
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-int64(p.Fee)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	denominator.Add(denominator, amountInWithFee)

	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	return numerator.Div(numerator, denominator), nil
}

func topic0(log types.Log) common.Hash {
	if len(log.Topics) > 0 {
		return log.Topics[0]
	}
	return common.Hash{}
}
