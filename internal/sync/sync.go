// Package sync drives full AMM catalog synchronization: concurrent discovery
// across factories, batched hydration at a single snapshot block, pruning of
// degenerate pools and checkpointing for resume.
package sync

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"ammsync/internal/amm"
	"ammsync/internal/chain"
	"ammsync/internal/metrics"
	"ammsync/internal/task"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// DefaultTaskLimit caps the in-flight task set of one hydration loop.
const DefaultTaskLimit = 10

type options struct {
	taskLimit int
	metrics   *metrics.Metrics
}

// Option configures optional collaborators of a sync cycle.
type Option func(*options)

// WithTaskLimit overrides the in-flight task cap.
func WithTaskLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.taskLimit = n
		}
	}
}

// WithMetrics attaches a metrics handle; the engine runs fine without one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{taskLimit: DefaultTaskLimit}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SyncPools discovers and hydrates every pool of every factory at a single
// snapshot block. All factory tasks run concurrently; a failing task aborts
// the cycle and a panicking task re-panics here. When checkpointPath is
// non-empty a fresh checkpoint is written before returning. Returns the
// aggregated catalog and the snapshot block.
func SyncPools(ctx context.Context, backend chain.Backend, factories []amm.Factory, checkpointPath string, step uint64, opts ...Option) ([]amm.AMM, uint64, error) {
	o := buildOptions(opts)
	started := time.Now()

	currentBlock, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("reading current block: %w", err)
	}

	log.Info().
		Uint64("block", currentBlock).
		Int("factories", len(factories)).
		Msg("Syncing AMMs")

	results := make([][]amm.AMM, len(factories))
	g, gctx := task.WithContext(ctx)
	for i, factory := range factories {
		g.Go(func() error {
			pools, err := syncFactory(gctx, backend, factory, currentBlock, step, o)
			if err != nil {
				return err
			}
			results[i] = pools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var aggregated []amm.AMM
	for _, pools := range results {
		aggregated = append(aggregated, pools...)
	}
	aggregated = dedupeByAddress(aggregated)

	if o.metrics != nil {
		o.metrics.ObserveSync(aggregated, currentBlock, time.Since(started))
	}

	if checkpointPath != "" {
		if err := ConstructCheckpoint(factories, aggregated, currentBlock, checkpointPath); err != nil {
			return nil, 0, err
		}
	}

	log.Info().
		Int("pools", len(aggregated)).
		Uint64("block", currentBlock).
		Dur("elapsed", time.Since(started)).
		Msg("Sync complete")

	return aggregated, currentBlock, nil
}

// syncFactory runs one factory's discover-hydrate-prune pipeline at the
// snapshot block.
func syncFactory(ctx context.Context, backend chain.Backend, factory amm.Factory, block uint64, step uint64, o options) ([]amm.AMM, error) {
	log.Debug().Str("factory", factory.Address().Hex()).Msg("Getting all pools")

	pools, err := factory.GetAllPools(ctx, backend, block, step, o.taskLimit)
	if err != nil {
		return nil, fmt.Errorf("discovering pools of %s: %w", factory.Address().Hex(), err)
	}

	log.Debug().
		Str("factory", factory.Address().Hex()).
		Int("pools", len(pools)).
		Msg("Populating pool data")

	if err := PopulatePools(ctx, backend, pools, block, WithTaskLimit(o.taskLimit)); err != nil {
		return nil, fmt.Errorf("populating pools of %s: %w", factory.Address().Hex(), err)
	}

	discovered := len(pools)
	pools = removeEmptyPools(pools)
	if o.metrics != nil {
		o.metrics.AddPruned(discovered - len(pools))
	}

	// Constant-product pools do not encode their fee on-chain; the factory
	// declares it.
	if cpf, ok := factory.(*amm.ConstantProductFactory); ok {
		for _, p := range pools {
			if pool, ok := p.(*amm.ConstantProductPool); ok {
				pool.Fee = cpf.Fee()
			}
		}
	}

	return pools, nil
}

// PopulatePools hydrates a homogeneous slice of pools in place at the given
// block. Mixed variants are rejected before any RPC is issued. Vault-share
// pools have no batched read and are hydrated one by one under the same
// task cap.
func PopulatePools(ctx context.Context, backend chain.Backend, pools []amm.AMM, block uint64, opts ...Option) error {
	if len(pools) == 0 {
		return nil
	}
	if !amm.Congruent(pools) {
		return amm.ErrIncongruentPools
	}

	o := buildOptions(opts)

	var blockNumber *big.Int
	if block > 0 {
		blockNumber = new(big.Int).SetUint64(block)
	}

	switch pools[0].Kind() {
	case amm.KindConstantProduct:
		return amm.NewConstantProductFactory(common.Address{}, 0, 0).
			PopulatePoolData(ctx, backend, pools, blockNumber, o.taskLimit)

	case amm.KindConcentratedLiquidity:
		return amm.NewConcentratedLiquidityFactory(common.Address{}, 0).
			PopulatePoolData(ctx, backend, pools, blockNumber, o.taskLimit)

	case amm.KindVaultShare:
		g, gctx := task.WithContext(ctx)
		g.SetLimit(o.taskLimit)
		for _, p := range pools {
			g.Go(func() error {
				return p.PopulateData(gctx, backend, blockNumber)
			})
		}
		return g.Wait()

	default:
		return fmt.Errorf("unsupported pool variant %s", pools[0].Kind())
	}
}

// removeEmptyPools drops pools whose token pair contains the zero address.
// Degenerate pools are a normal artifact of factory deployments, not an
// error.
func removeEmptyPools(pools []amm.AMM) []amm.AMM {
	cleaned := make([]amm.AMM, 0, len(pools))
	zero := common.Address{}
	for _, p := range pools {
		degenerate := false
		for _, token := range p.Tokens() {
			if token == zero {
				degenerate = true
				break
			}
		}
		if !degenerate {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

// dedupeByAddress keeps the first pool seen for each address.
func dedupeByAddress(pools []amm.AMM) []amm.AMM {
	seen := make(map[common.Address]struct{}, len(pools))
	deduped := make([]amm.AMM, 0, len(pools))
	for _, p := range pools {
		if _, ok := seen[p.Address()]; ok {
			continue
		}
		seen[p.Address()] = struct{}{}
		deduped = append(deduped, p)
	}
	return deduped
}
