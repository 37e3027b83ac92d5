package amm

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers the engine's RPC reads from in-memory fixtures.
type fakeBackend struct {
	blockNumber uint64
	registry    []common.Address
	logs        []types.Log

	batchCalls atomic.Int64
	mu         sync.Mutex
	// pairIndexes records every registry index requested across batches.
	pairIndexes []uint64
	inFlight    int
	maxInFlight int
}

var (
	allPairsLengthSelector = [4]byte(crypto.Keccak256([]byte("allPairsLength()"))[:4])
	allPairsSelector       = [4]byte(crypto.Keccak256([]byte("allPairs(uint256)"))[:4])
)

func (b *fakeBackend) BlockNumber(_ context.Context) (uint64, error) {
	return b.blockNumber, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var matched []types.Log
	for _, log := range b.logs {
		if query.FromBlock != nil && log.BlockNumber < query.FromBlock.Uint64() {
			continue
		}
		if query.ToBlock != nil && log.BlockNumber > query.ToBlock.Uint64() {
			continue
		}
		matched = append(matched, log)
	}
	return matched, nil
}

func (b *fakeBackend) CallContract(_ context.Context, _ common.Address, data []byte, _ *big.Int) ([]byte, error) {
	if len(data) >= 4 && [4]byte(data[:4]) == allPairsLengthSelector {
		return common.LeftPadBytes(new(big.Int).SetUint64(uint64(len(b.registry))).Bytes(), 32), nil
	}
	return nil, nil
}

func (b *fakeBackend) BatchCallAt(_ context.Context, calls []chain.Call, _ *big.Int) ([]chain.Result, error) {
	b.batchCalls.Add(1)
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()
	results := make([]chain.Result, len(calls))
	for i, call := range calls {
		if len(call.CallData) >= 36 && [4]byte(call.CallData[:4]) == allPairsSelector {
			index := new(big.Int).SetBytes(call.CallData[4:36]).Uint64()
			b.mu.Lock()
			b.pairIndexes = append(b.pairIndexes, index)
			b.mu.Unlock()
			if index < uint64(len(b.registry)) {
				results[i] = chain.Result{
					Success: true,
					Data:    common.LeftPadBytes(b.registry[index].Bytes(), 32),
				}
				continue
			}
		}
		results[i] = chain.Result{Success: false}
	}
	return results, nil
}

func TestCongruent(t *testing.T) {
	cp := &ConstantProductPool{PoolAddress: common.HexToAddress("0x1")}
	cl := &ConcentratedLiquidityPool{PoolAddress: common.HexToAddress("0x2")}

	require.True(t, Congruent(nil))
	require.True(t, Congruent([]AMM{cp}))
	require.True(t, Congruent([]AMM{cp, &ConstantProductPool{}}))
	require.False(t, Congruent([]AMM{cp, cl}))
}

func TestPairCreatedEventSignature(t *testing.T) {
	// The published constant for PairCreated(address,address,address,uint256).
	require.Equal(t,
		common.HexToHash("0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"),
		PairCreatedEventSignature,
	)
}

func TestGetAllPoolsEmptyRegistry(t *testing.T) {
	backend := &fakeBackend{blockNumber: 100}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := factory.GetAllPools(context.Background(), backend, 100, 0, 0)
	require.NoError(t, err)
	require.Empty(t, pools)
	require.Zero(t, backend.batchCalls.Load(), "no batched read for an empty registry")
}

func TestGetAllPoolsExactBatchWidth(t *testing.T) {
	backend := &fakeBackend{blockNumber: 100, registry: makeRegistry(PairsBatchSize)}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := factory.GetAllPools(context.Background(), backend, 100, 0, 0)
	require.NoError(t, err)
	require.Len(t, pools, PairsBatchSize)
	require.EqualValues(t, 1, backend.batchCalls.Load(), "exactly one batched call, no residue slice")
}

func TestGetAllPoolsOneBelowBatchWidth(t *testing.T) {
	backend := &fakeBackend{blockNumber: 100, registry: makeRegistry(PairsBatchSize - 1)}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := factory.GetAllPools(context.Background(), backend, 100, 0, 0)
	require.NoError(t, err)
	require.Len(t, pools, PairsBatchSize-1)
	require.EqualValues(t, 1, backend.batchCalls.Load())
}

func TestGetAllPoolsResidueCoversLastIndex(t *testing.T) {
	// The final slice must be [from, N), including the registry's last entry.
	n := PairsBatchSize + 3
	backend := &fakeBackend{blockNumber: 100, registry: makeRegistry(n)}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := factory.GetAllPools(context.Background(), backend, 100, 0, 0)
	require.NoError(t, err)
	require.Len(t, pools, n)

	seen := make(map[uint64]int)
	for _, index := range backend.pairIndexes {
		seen[index]++
	}
	for i := uint64(0); i < uint64(n); i++ {
		require.Equal(t, 1, seen[i], "registry index %d requested exactly once", i)
	}
}

func TestGetAllPoolsRespectsTaskLimit(t *testing.T) {
	backend := &fakeBackend{blockNumber: 100, registry: makeRegistry(PairsBatchSize * 4)}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := factory.GetAllPools(context.Background(), backend, 100, 0, 1)
	require.NoError(t, err)
	require.Len(t, pools, PairsBatchSize*4)
	require.Equal(t, 1, backend.maxInFlight, "configured task limit bounds the in-flight batches")
}

func TestPoolsFromLogsEmptyRange(t *testing.T) {
	backend := &fakeBackend{blockNumber: 100}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	pools, err := PoolsFromLogs(context.Background(), backend, factory, 200, 100, 10)
	require.NoError(t, err)
	require.Empty(t, pools)
}

func TestPoolsFromLogsDecodeFailureIsFatal(t *testing.T) {
	backend := &fakeBackend{
		blockNumber: 100,
		logs: []types.Log{{
			// Right topic, truncated data: the scan must fail, not skip.
			Topics: []common.Hash{
				PairCreatedEventSignature,
				common.HexToHash("0x1"),
				common.HexToHash("0x2"),
			},
			Data:        []byte{0x01, 0x02},
			BlockNumber: 50,
		}},
	}
	factory := NewConstantProductFactory(common.HexToAddress("0xAAAA"), 1, 3000)

	_, err := PoolsFromLogs(context.Background(), backend, factory, 1, 100, 1000)
	require.Error(t, err)
}

func makeRegistry(n int) []common.Address {
	registry := make([]common.Address, n)
	for i := range registry {
		registry[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	return registry
}
