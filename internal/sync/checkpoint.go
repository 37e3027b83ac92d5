package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ammsync/internal/amm"
	"ammsync/internal/chain"
	"ammsync/internal/task"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// rehydrateChunkSize bounds how many checkpointed pools one re-hydration
// task owns, keeping the in-flight memory footprint flat on large catalogs.
const rehydrateChunkSize = 50_000

// Checkpoint is the persisted snapshot of a sync: the factory set, the full
// catalog and the block it was taken at.
type Checkpoint struct {
	Timestamp   uint64          `json:"timestamp"`
	BlockNumber uint64          `json:"block_number"`
	Factories   []FactoryRecord `json:"factories"`
	AMMs        []PoolRecord    `json:"amms"`
}

// FactoryRecord is the serialized form of a factory variant.
type FactoryRecord struct {
	Variant       string `json:"variant"`
	Address       string `json:"address"`
	CreationBlock uint64 `json:"creation_block"`
	Fee           uint32 `json:"fee,omitempty"`
}

// PoolRecord is the serialized form of a pool variant. 256-bit numerics are
// decimal strings; addresses are lowercase hex.
type PoolRecord struct {
	Variant string `json:"variant"`
	Address string `json:"address"`

	TokenA         string `json:"token_a,omitempty"`
	TokenB         string `json:"token_b,omitempty"`
	TokenADecimals uint8  `json:"token_a_decimals,omitempty"`
	TokenBDecimals uint8  `json:"token_b_decimals,omitempty"`
	Fee            uint32 `json:"fee,omitempty"`

	ReserveA string `json:"reserve_a,omitempty"`
	ReserveB string `json:"reserve_b,omitempty"`

	Liquidity    string            `json:"liquidity,omitempty"`
	SqrtPriceX96 string            `json:"sqrt_price_x96,omitempty"`
	Tick         int32             `json:"tick,omitempty"`
	TickSpacing  int32             `json:"tick_spacing,omitempty"`
	TickBitmap   map[string]string `json:"tick_bitmap,omitempty"`
	LiquidityNet map[string]string `json:"liquidity_net,omitempty"`

	VaultToken         string `json:"vault_token,omitempty"`
	AssetToken         string `json:"asset_token,omitempty"`
	VaultTokenDecimals uint8  `json:"vault_token_decimals,omitempty"`
	AssetTokenDecimals uint8  `json:"asset_token_decimals,omitempty"`
	TotalSupply        string `json:"total_supply,omitempty"`
	TotalAssets        string `json:"total_assets,omitempty"`
}

// ConstructCheckpoint serializes the catalog to pretty JSON and writes it
// atomically: the payload lands in a temp file in the target directory and
// is renamed over the destination, so a crash never leaves a half-written
// checkpoint. The stored timestamp never decreases across writes.
func ConstructCheckpoint(factories []amm.Factory, pools []amm.AMM, block uint64, path string) error {
	timestamp := uint64(time.Now().Unix())
	if previous, err := readCheckpoint(path); err == nil && previous.Timestamp > timestamp {
		timestamp = previous.Timestamp
	}

	checkpoint := Checkpoint{
		Timestamp:   timestamp,
		BlockNumber: block,
		Factories:   make([]FactoryRecord, 0, len(factories)),
		AMMs:        make([]PoolRecord, 0, len(pools)),
	}
	for _, f := range factories {
		checkpoint.Factories = append(checkpoint.Factories, recordFromFactory(f))
	}
	for _, p := range pools {
		checkpoint.AMMs = append(checkpoint.AMMs, recordFromPool(p))
	}

	data, err := json.MarshalIndent(&checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting checkpoint permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}

	return nil
}

// DeconstructCheckpoint loads a checkpoint and returns its catalog and block
// number.
func DeconstructCheckpoint(path string) ([]amm.AMM, uint64, error) {
	checkpoint, err := readCheckpoint(path)
	if err != nil {
		return nil, 0, err
	}

	pools := make([]amm.AMM, 0, len(checkpoint.AMMs))
	for _, record := range checkpoint.AMMs {
		pool, err := record.toPool()
		if err != nil {
			return nil, 0, err
		}
		pools = append(pools, pool)
	}

	return pools, checkpoint.BlockNumber, nil
}

// SyncPoolsFromCheckpoint resumes from a checkpoint: the stored catalog is
// re-hydrated at the current block while a log scan discovers pools created
// since the checkpoint was taken. A fresh checkpoint is written at the new
// block before returning.
func SyncPoolsFromCheckpoint(ctx context.Context, backend chain.Backend, path string, step uint64, opts ...Option) ([]amm.Factory, []amm.AMM, error) {
	o := buildOptions(opts)
	started := time.Now()

	currentBlock, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading current block: %w", err)
	}

	checkpoint, err := readCheckpoint(path)
	if err != nil {
		return nil, nil, err
	}

	factories := make([]amm.Factory, 0, len(checkpoint.Factories))
	for _, record := range checkpoint.Factories {
		factory, err := record.toFactory()
		if err != nil {
			return nil, nil, err
		}
		factories = append(factories, factory)
	}

	pools := make([]amm.AMM, 0, len(checkpoint.AMMs))
	for _, record := range checkpoint.AMMs {
		pool, err := record.toPool()
		if err != nil {
			return nil, nil, err
		}
		pools = append(pools, pool)
	}

	log.Info().
		Uint64("checkpoint_block", checkpoint.BlockNumber).
		Uint64("block", currentBlock).
		Int("pools", len(pools)).
		Msg("Syncing AMMs from checkpoint")

	// Re-hydrate each homogeneous partition in bounded chunks. Vault-share
	// partitions flow through the same path; they hydrate per entry.
	var tasks []func(context.Context) ([]amm.AMM, error)
	for _, partition := range partitionByKind(pools) {
		for chunkStart := 0; chunkStart < len(partition); chunkStart += rehydrateChunkSize {
			chunkEnd := min(chunkStart+rehydrateChunkSize, len(partition))
			chunk := partition[chunkStart:chunkEnd]
			tasks = append(tasks, func(ctx context.Context) ([]amm.AMM, error) {
				if err := PopulatePools(ctx, backend, chunk, currentBlock, WithTaskLimit(o.taskLimit)); err != nil {
					return nil, err
				}
				return removeEmptyPools(chunk), nil
			})
		}
	}

	// In parallel, pick up pools created since the checkpoint block.
	for _, factory := range factories {
		tasks = append(tasks, func(ctx context.Context) ([]amm.AMM, error) {
			return syncFactoryRange(ctx, backend, factory, checkpoint.BlockNumber+1, currentBlock, step, o)
		})
	}

	results := make([][]amm.AMM, len(tasks))
	g, gctx := task.WithContext(ctx)
	for i, run := range tasks {
		g.Go(func() error {
			pools, err := run(gctx)
			if err != nil {
				return err
			}
			results[i] = pools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var aggregated []amm.AMM
	for _, pools := range results {
		aggregated = append(aggregated, pools...)
	}
	aggregated = dedupeByAddress(aggregated)

	if o.metrics != nil {
		o.metrics.ObserveSync(aggregated, currentBlock, time.Since(started))
	}

	if err := ConstructCheckpoint(factories, aggregated, currentBlock, path); err != nil {
		return nil, nil, err
	}

	log.Info().
		Int("pools", len(aggregated)).
		Uint64("block", currentBlock).
		Dur("elapsed", time.Since(started)).
		Msg("Checkpoint sync complete")

	return factories, aggregated, nil
}

// syncFactoryRange discovers pools created in [fromBlock, toBlock] via the
// factory's creation logs, hydrates them at toBlock and prunes degenerates.
func syncFactoryRange(ctx context.Context, backend chain.Backend, factory amm.Factory, fromBlock, toBlock, step uint64, o options) ([]amm.AMM, error) {
	pools, err := amm.PoolsFromLogs(ctx, backend, factory, fromBlock, toBlock, step)
	if err != nil {
		return nil, fmt.Errorf("scanning new pools of %s: %w", factory.Address().Hex(), err)
	}
	if len(pools) == 0 {
		return nil, nil
	}

	if err := PopulatePools(ctx, backend, pools, toBlock, WithTaskLimit(o.taskLimit)); err != nil {
		return nil, fmt.Errorf("populating new pools of %s: %w", factory.Address().Hex(), err)
	}

	pools = removeEmptyPools(pools)

	if cpf, ok := factory.(*amm.ConstantProductFactory); ok {
		for _, p := range pools {
			if pool, ok := p.(*amm.ConstantProductPool); ok {
				pool.Fee = cpf.Fee()
			}
		}
	}

	return pools, nil
}

// partitionByKind splits a catalog into homogeneous slices, one per variant
// present.
func partitionByKind(pools []amm.AMM) [][]amm.AMM {
	byKind := make(map[amm.Kind][]amm.AMM)
	var order []amm.Kind
	for _, p := range pools {
		if _, ok := byKind[p.Kind()]; !ok {
			order = append(order, p.Kind())
		}
		byKind[p.Kind()] = append(byKind[p.Kind()], p)
	}

	partitions := make([][]amm.AMM, 0, len(order))
	for _, kind := range order {
		partitions = append(partitions, byKind[kind])
	}
	return partitions
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &checkpoint, nil
}

func recordFromFactory(f amm.Factory) FactoryRecord {
	record := FactoryRecord{
		Address:       lowerHex(f.Address()),
		CreationBlock: f.CreationBlock(),
	}
	switch factory := f.(type) {
	case *amm.ConstantProductFactory:
		record.Variant = amm.KindConstantProduct.String()
		record.Fee = factory.Fee()
	case *amm.ConcentratedLiquidityFactory:
		record.Variant = amm.KindConcentratedLiquidity.String()
	}
	return record
}

func (r FactoryRecord) toFactory() (amm.Factory, error) {
	address := common.HexToAddress(r.Address)
	switch r.Variant {
	case amm.KindConstantProduct.String():
		return amm.NewConstantProductFactory(address, r.CreationBlock, r.Fee), nil
	case amm.KindConcentratedLiquidity.String():
		return amm.NewConcentratedLiquidityFactory(address, r.CreationBlock), nil
	default:
		return nil, fmt.Errorf("unknown factory variant %q", r.Variant)
	}
}

func recordFromPool(p amm.AMM) PoolRecord {
	switch pool := p.(type) {
	case *amm.ConstantProductPool:
		return PoolRecord{
			Variant:        amm.KindConstantProduct.String(),
			Address:        lowerHex(pool.PoolAddress),
			TokenA:         lowerHex(pool.TokenA),
			TokenB:         lowerHex(pool.TokenB),
			TokenADecimals: pool.TokenADecimals,
			TokenBDecimals: pool.TokenBDecimals,
			Fee:            pool.Fee,
			ReserveA:       bigString(pool.ReserveA),
			ReserveB:       bigString(pool.ReserveB),
		}

	case *amm.ConcentratedLiquidityPool:
		record := PoolRecord{
			Variant:        amm.KindConcentratedLiquidity.String(),
			Address:        lowerHex(pool.PoolAddress),
			TokenA:         lowerHex(pool.TokenA),
			TokenB:         lowerHex(pool.TokenB),
			TokenADecimals: pool.TokenADecimals,
			TokenBDecimals: pool.TokenBDecimals,
			Fee:            pool.Fee,
			Liquidity:      bigString(pool.Liquidity),
			SqrtPriceX96:   bigString(pool.SqrtPriceX96),
			Tick:           pool.Tick,
			TickSpacing:    pool.TickSpacing,
		}
		if len(pool.TickBitmap) > 0 {
			record.TickBitmap = make(map[string]string, len(pool.TickBitmap))
			for word, bitmap := range pool.TickBitmap {
				record.TickBitmap[strconv.Itoa(int(word))] = bigString(bitmap)
			}
		}
		if len(pool.LiquidityNet) > 0 {
			record.LiquidityNet = make(map[string]string, len(pool.LiquidityNet))
			for tick, net := range pool.LiquidityNet {
				record.LiquidityNet[strconv.Itoa(int(tick))] = bigString(net)
			}
		}
		return record

	case *amm.VaultSharePool:
		return PoolRecord{
			Variant:            amm.KindVaultShare.String(),
			Address:            lowerHex(pool.VaultToken),
			VaultToken:         lowerHex(pool.VaultToken),
			AssetToken:         lowerHex(pool.AssetToken),
			VaultTokenDecimals: pool.VaultTokenDecimals,
			AssetTokenDecimals: pool.AssetTokenDecimals,
			TotalSupply:        bigString(pool.TotalSupply),
			TotalAssets:        bigString(pool.TotalAssets),
			Fee:                pool.Fee,
		}

	default:
		return PoolRecord{Variant: "unknown", Address: lowerHex(p.Address())}
	}
}

func (r PoolRecord) toPool() (amm.AMM, error) {
	switch r.Variant {
	case amm.KindConstantProduct.String():
		reserveA, err := parseBig(r.ReserveA)
		if err != nil {
			return nil, fmt.Errorf("pool %s reserve_a: %w", r.Address, err)
		}
		reserveB, err := parseBig(r.ReserveB)
		if err != nil {
			return nil, fmt.Errorf("pool %s reserve_b: %w", r.Address, err)
		}
		return &amm.ConstantProductPool{
			PoolAddress:    common.HexToAddress(r.Address),
			TokenA:         common.HexToAddress(r.TokenA),
			TokenB:         common.HexToAddress(r.TokenB),
			TokenADecimals: r.TokenADecimals,
			TokenBDecimals: r.TokenBDecimals,
			ReserveA:       reserveA,
			ReserveB:       reserveB,
			Fee:            r.Fee,
		}, nil

	case amm.KindConcentratedLiquidity.String():
		liquidity, err := parseBig(r.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("pool %s liquidity: %w", r.Address, err)
		}
		sqrtPrice, err := parseBig(r.SqrtPriceX96)
		if err != nil {
			return nil, fmt.Errorf("pool %s sqrt_price_x96: %w", r.Address, err)
		}
		pool := &amm.ConcentratedLiquidityPool{
			PoolAddress:    common.HexToAddress(r.Address),
			TokenA:         common.HexToAddress(r.TokenA),
			TokenB:         common.HexToAddress(r.TokenB),
			TokenADecimals: r.TokenADecimals,
			TokenBDecimals: r.TokenBDecimals,
			Liquidity:      liquidity,
			SqrtPriceX96:   sqrtPrice,
			Tick:           r.Tick,
			TickSpacing:    r.TickSpacing,
			Fee:            r.Fee,
		}
		if len(r.TickBitmap) > 0 {
			pool.TickBitmap = make(map[int16]*big.Int, len(r.TickBitmap))
			for word, bitmap := range r.TickBitmap {
				w, err := strconv.Atoi(word)
				if err != nil {
					return nil, fmt.Errorf("pool %s tick_bitmap word %q: %w", r.Address, word, err)
				}
				value, err := parseBig(bitmap)
				if err != nil {
					return nil, fmt.Errorf("pool %s tick_bitmap[%s]: %w", r.Address, word, err)
				}
				pool.TickBitmap[int16(w)] = value
			}
		}
		if len(r.LiquidityNet) > 0 {
			pool.LiquidityNet = make(map[int32]*big.Int, len(r.LiquidityNet))
			for tick, net := range r.LiquidityNet {
				t, err := strconv.Atoi(tick)
				if err != nil {
					return nil, fmt.Errorf("pool %s liquidity_net tick %q: %w", r.Address, tick, err)
				}
				value, err := parseBig(net)
				if err != nil {
					return nil, fmt.Errorf("pool %s liquidity_net[%s]: %w", r.Address, tick, err)
				}
				pool.LiquidityNet[int32(t)] = value
			}
		}
		return pool, nil

	case amm.KindVaultShare.String():
		totalSupply, err := parseBig(r.TotalSupply)
		if err != nil {
			return nil, fmt.Errorf("vault %s total_supply: %w", r.Address, err)
		}
		totalAssets, err := parseBig(r.TotalAssets)
		if err != nil {
			return nil, fmt.Errorf("vault %s total_assets: %w", r.Address, err)
		}
		return &amm.VaultSharePool{
			VaultToken:         common.HexToAddress(r.VaultToken),
			AssetToken:         common.HexToAddress(r.AssetToken),
			VaultTokenDecimals: r.VaultTokenDecimals,
			AssetTokenDecimals: r.AssetTokenDecimals,
			TotalSupply:        totalSupply,
			TotalAssets:        totalAssets,
			Fee:                r.Fee,
		}, nil

	default:
		return nil, fmt.Errorf("unknown pool variant %q", r.Variant)
	}
}

func lowerHex(addr common.Address) string {
	return "0x" + common.Bytes2Hex(addr.Bytes())
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed decimal string %q", s)
	}
	return v, nil
}
