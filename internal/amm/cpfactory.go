package amm

import (
	"context"
	"fmt"
	"math/big"

	"ammsync/internal/chain"
	"ammsync/internal/task"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PairCreatedEventSignature is topic0 of
// PairCreated(address,address,address,uint256):
// 0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9
var PairCreatedEventSignature = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))

var pairCreatedEventArgs abi.Arguments

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	// token0 and token1 are indexed; the data carries the pair address and
	// the registry index.
	pairCreatedEventArgs = abi.Arguments{
		{Type: addressType, Name: "pair"},
		{Type: uint256Type, Name: "index"},
	}
}

// ConstantProductFactory registers constant-product pools. Its on-chain
// registry is an indexable array, so cold-start discovery enumerates it with
// batched reads instead of scanning logs. Pools of this family do not encode
// their fee on-chain; the factory declares it for all of them.
type ConstantProductFactory struct {
	address       common.Address
	creationBlock uint64
	fee           uint32
}

func NewConstantProductFactory(address common.Address, creationBlock uint64, fee uint32) *ConstantProductFactory {
	return &ConstantProductFactory{
		address:       address,
		creationBlock: creationBlock,
		fee:           fee,
	}
}

func (f *ConstantProductFactory) Address() common.Address {
	return f.address
}

func (f *ConstantProductFactory) CreationBlock() uint64 {
	return f.creationBlock
}

// Fee returns the fee the factory declares for every pool it creates, in
// parts per million.
func (f *ConstantProductFactory) Fee() uint32 {
	return f.fee
}

func (f *ConstantProductFactory) PoolCreatedEventSignature() common.Hash {
	return PairCreatedEventSignature
}

func (f *ConstantProductFactory) NewEmptyPoolFromLog(log types.Log) (AMM, error) {
	if len(log.Topics) < 3 || log.Topics[0] != PairCreatedEventSignature {
		return nil, &EventLogError{Log: topic0(log), Err: ErrInvalidEventSignature}
	}

	values, err := pairCreatedEventArgs.Unpack(log.Data)
	if err != nil {
		return nil, &EventLogError{Log: log.Topics[0], Err: err}
	}

	return &ConstantProductPool{
		PoolAddress: values[0].(common.Address),
		TokenA:      common.BytesToAddress(log.Topics[1].Bytes()),
		TokenB:      common.BytesToAddress(log.Topics[2].Bytes()),
	}, nil
}

func (f *ConstantProductFactory) NewPoolFromLog(ctx context.Context, backend chain.Backend, log types.Log) (AMM, error) {
	pool, err := f.NewEmptyPoolFromLog(log)
	if err != nil {
		return nil, err
	}
	if err := pool.PopulateData(ctx, backend, nil); err != nil {
		return nil, err
	}
	pool.(*ConstantProductPool).Fee = f.fee
	return pool, nil
}

// GetAllPools enumerates the factory's registry with batched index reads.
// The log-scan step parameter is unused on this fast path.
func (f *ConstantProductFactory) GetAllPools(ctx context.Context, backend chain.Backend, toBlock uint64, _ uint64, taskLimit int) ([]AMM, error) {
	if taskLimit <= 0 {
		taskLimit = DefaultTaskLimit
	}

	var block *big.Int
	if toBlock > 0 {
		block = new(big.Int).SetUint64(toBlock)
	}

	length, err := getRegistryLength(ctx, backend, f.address, block)
	if err != nil {
		return nil, fmt.Errorf("reading registry length of %s: %w", f.address.Hex(), err)
	}
	if length == 0 {
		return nil, nil
	}

	type slice struct {
		from, to uint64
	}
	var slices []slice
	for from := uint64(0); from < length; from += PairsBatchSize {
		to := from + PairsBatchSize
		if to > length {
			to = length
		}
		slices = append(slices, slice{from: from, to: to})
	}

	results := make([][]common.Address, len(slices))
	g, gctx := task.WithContext(ctx)
	g.SetLimit(taskLimit)
	for i, s := range slices {
		g.Go(func() error {
			pairs, err := getPairsBatch(gctx, backend, f.address, s.from, s.to, block)
			if err != nil {
				return err
			}
			results[i] = pairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pools := make([]AMM, 0, length)
	for _, pairs := range results {
		for _, addr := range pairs {
			pools = append(pools, &ConstantProductPool{PoolAddress: addr})
		}
	}

	return pools, nil
}

// PopulatePoolData hydrates the pools in chunks of the protocol batch cap.
func (f *ConstantProductFactory) PopulatePoolData(ctx context.Context, backend chain.Backend, pools []AMM, block *big.Int, taskLimit int) error {
	if taskLimit <= 0 {
		taskLimit = DefaultTaskLimit
	}

	chunk := make([]*ConstantProductPool, 0, ConstantProductDataBatchSize)
	chunks := make([][]*ConstantProductPool, 0, len(pools)/ConstantProductDataBatchSize+1)
	for _, p := range pools {
		cp, ok := p.(*ConstantProductPool)
		if !ok {
			return ErrIncongruentPools
		}
		chunk = append(chunk, cp)
		if len(chunk) == ConstantProductDataBatchSize {
			chunks = append(chunks, chunk)
			chunk = make([]*ConstantProductPool, 0, ConstantProductDataBatchSize)
		}
	}
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}

	g, gctx := task.WithContext(ctx)
	g.SetLimit(taskLimit)
	for _, c := range chunks {
		g.Go(func() error {
			return populateConstantProductBatch(gctx, backend, c, block)
		})
	}
	return g.Wait()
}
