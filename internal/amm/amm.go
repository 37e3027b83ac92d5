package amm

import (
	"context"
	"math/big"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind discriminates the closed set of pool variants. Batch operations
// consult it to pick the right batched RPC path.
type Kind uint8

const (
	KindConstantProduct Kind = iota
	KindConcentratedLiquidity
	KindVaultShare
)

func (k Kind) String() string {
	switch k {
	case KindConstantProduct:
		return "constant_product"
	case KindConcentratedLiquidity:
		return "concentrated_liquidity"
	case KindVaultShare:
		return "vault_share"
	default:
		return "unknown"
	}
}

// AMM is the capability set shared by every pool variant. Implementations use
// pointer receivers; hydration mutates the pool in place.
type AMM interface {
	// Address returns the pool's on-chain address, its immutable identity.
	Address() common.Address

	// Tokens returns the token addresses the pool quotes between.
	Tokens() []common.Address

	// Kind returns the variant discriminant.
	Kind() Kind

	// PopulateData hydrates the pool's state from the chain. A nil block
	// targets the latest state.
	PopulateData(ctx context.Context, backend chain.Backend, block *big.Int) error

	// SyncOnEvent applies a single state-change log emitted by the pool.
	SyncOnEvent(log types.Log) error

	// SimulateSwap quotes an exact-input swap against the pool's current
	// state without mutating it.
	SimulateSwap(tokenIn common.Address, amountIn *big.Int) (*big.Int, error)
}

// Congruent reports whether every pool in the slice shares one variant.
func Congruent(pools []AMM) bool {
	if len(pools) == 0 {
		return true
	}
	expected := pools[0].Kind()
	for _, p := range pools[1:] {
		if p.Kind() != expected {
			return false
		}
	}
	return true
}
