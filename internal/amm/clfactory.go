package amm

import (
	"context"
	"math/big"

	"ammsync/internal/chain"
	"ammsync/internal/task"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PoolCreatedEventSignature is topic0 of
// PoolCreated(address,address,uint24,int24,address).
var PoolCreatedEventSignature = crypto.Keccak256Hash([]byte("PoolCreated(address,address,uint24,int24,address)"))

var poolCreatedEventArgs abi.Arguments

func init() {
	int24Type, _ := abi.NewType("int24", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	// token0, token1 and fee are indexed; the data carries tickSpacing and
	// the pool address.
	poolCreatedEventArgs = abi.Arguments{
		{Type: int24Type, Name: "tickSpacing"},
		{Type: addressType, Name: "pool"},
	}
}

// ConcentratedLiquidityFactory registers tick-based pools. Its registry is a
// token-pair mapping with no index, so discovery always scans the factory's
// creation logs.
type ConcentratedLiquidityFactory struct {
	address       common.Address
	creationBlock uint64
}

func NewConcentratedLiquidityFactory(address common.Address, creationBlock uint64) *ConcentratedLiquidityFactory {
	return &ConcentratedLiquidityFactory{
		address:       address,
		creationBlock: creationBlock,
	}
}

func (f *ConcentratedLiquidityFactory) Address() common.Address {
	return f.address
}

func (f *ConcentratedLiquidityFactory) CreationBlock() uint64 {
	return f.creationBlock
}

func (f *ConcentratedLiquidityFactory) PoolCreatedEventSignature() common.Hash {
	return PoolCreatedEventSignature
}

func (f *ConcentratedLiquidityFactory) NewEmptyPoolFromLog(log types.Log) (AMM, error) {
	if len(log.Topics) < 4 || log.Topics[0] != PoolCreatedEventSignature {
		return nil, &EventLogError{Log: topic0(log), Err: ErrInvalidEventSignature}
	}

	values, err := poolCreatedEventArgs.Unpack(log.Data)
	if err != nil {
		return nil, &EventLogError{Log: log.Topics[0], Err: err}
	}

	fee := new(big.Int).SetBytes(log.Topics[3].Bytes())

	return &ConcentratedLiquidityPool{
		PoolAddress: values[1].(common.Address),
		TokenA:      common.BytesToAddress(log.Topics[1].Bytes()),
		TokenB:      common.BytesToAddress(log.Topics[2].Bytes()),
		Fee:         uint32(fee.Uint64()),
		TickSpacing: int32(values[0].(*big.Int).Int64()),
	}, nil
}

func (f *ConcentratedLiquidityFactory) NewPoolFromLog(ctx context.Context, backend chain.Backend, log types.Log) (AMM, error) {
	pool, err := f.NewEmptyPoolFromLog(log)
	if err != nil {
		return nil, err
	}
	if err := pool.PopulateData(ctx, backend, nil); err != nil {
		return nil, err
	}
	return pool, nil
}

// GetAllPools scans the factory's pool-creation logs from its deployment
// block up to toBlock. The scan itself is sequential; taskLimit only bounds
// hydration fan-out, so it is unused here.
func (f *ConcentratedLiquidityFactory) GetAllPools(ctx context.Context, backend chain.Backend, toBlock uint64, step uint64, _ int) ([]AMM, error) {
	return PoolsFromLogs(ctx, backend, f, f.creationBlock, toBlock, step)
}

// PopulatePoolData hydrates the pools in chunks of the protocol batch cap,
// every chunk pinned to the same block.
func (f *ConcentratedLiquidityFactory) PopulatePoolData(ctx context.Context, backend chain.Backend, pools []AMM, block *big.Int, taskLimit int) error {
	if taskLimit <= 0 {
		taskLimit = DefaultTaskLimit
	}

	chunk := make([]*ConcentratedLiquidityPool, 0, ConcentratedDataBatchSize)
	chunks := make([][]*ConcentratedLiquidityPool, 0, len(pools)/ConcentratedDataBatchSize+1)
	for _, p := range pools {
		cl, ok := p.(*ConcentratedLiquidityPool)
		if !ok {
			return ErrIncongruentPools
		}
		chunk = append(chunk, cl)
		if len(chunk) == ConcentratedDataBatchSize {
			chunks = append(chunks, chunk)
			chunk = make([]*ConcentratedLiquidityPool, 0, ConcentratedDataBatchSize)
		}
	}
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}

	g, gctx := task.WithContext(ctx)
	g.SetLimit(taskLimit)
	for _, c := range chunks {
		g.Go(func() error {
			return populateConcentratedBatch(gctx, backend, c, block)
		})
	}
	return g.Wait()
}
