package amm

import (
	"context"
	"math/big"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultTaskLimit caps the number of in-flight batched reads one
// enumeration or hydration loop keeps open when the caller passes no limit.
const DefaultTaskLimit = 10

// Factory is the capability set shared by every factory variant. A factory
// is the canonical registry of the pools its protocol family has deployed.
type Factory interface {
	// Address returns the factory contract address.
	Address() common.Address

	// CreationBlock returns the block the factory was deployed at; log-scan
	// discovery never looks below it.
	CreationBlock() uint64

	// PoolCreatedEventSignature returns topic0 of the factory's
	// pool-creation event.
	PoolCreatedEventSignature() common.Hash

	// NewEmptyPoolFromLog decodes a pool-creation log into a pool carrying
	// only its identity fields; numeric state stays zero until hydration.
	NewEmptyPoolFromLog(log types.Log) (AMM, error)

	// NewPoolFromLog decodes a pool-creation log and hydrates the pool.
	NewPoolFromLog(ctx context.Context, backend chain.Backend, log types.Log) (AMM, error)

	// GetAllPools discovers every pool the factory has ever created, up to
	// toBlock. step bounds the width of one log-scan window; taskLimit caps
	// the in-flight batched reads (<= 0 means DefaultTaskLimit).
	GetAllPools(ctx context.Context, backend chain.Backend, toBlock uint64, step uint64, taskLimit int) ([]AMM, error)

	// PopulatePoolData hydrates a homogeneous slice of this factory's pools
	// at the given block, with at most taskLimit chunk reads in flight.
	PopulatePoolData(ctx context.Context, backend chain.Backend, pools []AMM, block *big.Int, taskLimit int) error
}

// PoolsFromLogs discovers pools by scanning the factory's pool-creation
// events over [fromBlock, toBlock] in windows of step blocks. The returned
// pools carry identity fields only. An undecodable log fails the whole scan;
// a silently skipped log would leave a hole in the catalog.
func PoolsFromLogs(ctx context.Context, backend chain.Backend, factory Factory, fromBlock, toBlock, step uint64) ([]AMM, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	if step == 0 {
		step = 1
	}

	var pools []AMM
	for windowStart := fromBlock; windowStart <= toBlock; windowStart += step {
		windowEnd := windowStart + step - 1
		if windowEnd > toBlock {
			windowEnd = toBlock
		}

		logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(windowStart),
			ToBlock:   new(big.Int).SetUint64(windowEnd),
			Addresses: []common.Address{factory.Address()},
			Topics:    [][]common.Hash{{factory.PoolCreatedEventSignature()}},
		})
		if err != nil {
			return nil, err
		}

		for _, log := range logs {
			pool, err := factory.NewEmptyPoolFromLog(log)
			if err != nil {
				return nil, err
			}
			pools = append(pools, pool)
		}
	}

	return pools, nil
}
