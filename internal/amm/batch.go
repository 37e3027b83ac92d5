package amm

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum/common"
)

// Batch width caps. These are hard limits dictated by the size of the packed
// read each protocol family supports; exceeding them makes the call revert.
const (
	// PairsBatchSize caps one registry-enumeration slice.
	PairsBatchSize = 766
	// ConstantProductDataBatchSize caps one constant-product hydration chunk.
	ConstantProductDataBatchSize = 127
	// ConcentratedDataBatchSize caps one concentrated-liquidity hydration chunk.
	ConcentratedDataBatchSize = 76
)

// maxTicksPerPool bounds how many initialized ticks around the current price
// are hydrated per concentrated pool.
const maxTicksPerPool = 32

// getPairsBatch reads the registry entries [fromIdx, toIdx) of a
// constant-product factory in one batched call.
func getPairsBatch(ctx context.Context, backend chain.Backend, factory common.Address, fromIdx, toIdx uint64, block *big.Int) ([]common.Address, error) {
	if fromIdx >= toIdx {
		return nil, nil
	}

	calls := make([]chain.Call, 0, toIdx-fromIdx)
	for i := fromIdx; i < toIdx; i++ {
		data, err := pairFactoryABI.Pack("allPairs", new(big.Int).SetUint64(i))
		if err != nil {
			return nil, fmt.Errorf("packing allPairs(%d): %w", i, err)
		}
		calls = append(calls, chain.Call{Target: factory, CallData: data})
	}

	results, err := backend.BatchCallAt(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	pairs := make([]common.Address, 0, len(results))
	for i, result := range results {
		if !result.Success {
			return nil, &BatchError{Pool: factory, Err: fmt.Errorf("allPairs(%d) reverted", fromIdx+uint64(i))}
		}
		var addr common.Address
		if err := pairFactoryABI.UnpackIntoInterface(&addr, "allPairs", result.Data); err != nil {
			return nil, &BatchError{Pool: factory, Err: err}
		}
		pairs = append(pairs, addr)
	}

	return pairs, nil
}

// getRegistryLength reads a constant-product factory's registry length.
func getRegistryLength(ctx context.Context, backend chain.Backend, factory common.Address, block *big.Int) (uint64, error) {
	data, err := pairFactoryABI.Pack("allPairsLength")
	if err != nil {
		return 0, fmt.Errorf("packing allPairsLength: %w", err)
	}

	result, err := backend.CallContract(ctx, factory, data, block)
	if err != nil {
		return 0, err
	}

	var length *big.Int
	if err := pairFactoryABI.UnpackIntoInterface(&length, "allPairsLength", result); err != nil {
		return 0, fmt.Errorf("unpacking allPairsLength: %w", err)
	}

	return length.Uint64(), nil
}

// populateConstantProductBatch hydrates one chunk of constant-product pools
// in place. A pool whose calls revert is left zeroed; the pruning pass drops
// it later. Malformed return data is fatal.
func populateConstantProductBatch(ctx context.Context, backend chain.Backend, pools []*ConstantProductPool, block *big.Int) error {
	const callsPerPool = 3

	token0Data, _ := pairABI.Pack("token0")
	token1Data, _ := pairABI.Pack("token1")
	reservesData, _ := pairABI.Pack("getReserves")

	calls := make([]chain.Call, 0, len(pools)*callsPerPool)
	for _, p := range pools {
		calls = append(calls,
			chain.Call{Target: p.PoolAddress, CallData: token0Data},
			chain.Call{Target: p.PoolAddress, CallData: token1Data},
			chain.Call{Target: p.PoolAddress, CallData: reservesData},
		)
	}

	results, err := backend.BatchCallAt(ctx, calls, block)
	if err != nil {
		return err
	}
	if len(results) != len(calls) {
		return fmt.Errorf("batch returned %d results, want %d", len(results), len(calls))
	}

	for i, p := range pools {
		token0Result := results[i*callsPerPool]
		token1Result := results[i*callsPerPool+1]
		reservesResult := results[i*callsPerPool+2]

		if !token0Result.Success || !token1Result.Success || !reservesResult.Success {
			continue
		}

		if err := pairABI.UnpackIntoInterface(&p.TokenA, "token0", token0Result.Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		if err := pairABI.UnpackIntoInterface(&p.TokenB, "token1", token1Result.Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}

		reserves := struct {
			Reserve0           *big.Int
			Reserve1           *big.Int
			BlockTimestampLast uint32
		}{}
		if err := pairABI.UnpackIntoInterface(&reserves, "getReserves", reservesResult.Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		p.ReserveA = reserves.Reserve0
		p.ReserveB = reserves.Reserve1
	}

	decimals, err := fetchTokenDecimals(ctx, backend, tokensOfConstantProduct(pools), block)
	if err != nil {
		return err
	}
	for _, p := range pools {
		if d, ok := decimals[p.TokenA]; ok {
			p.TokenADecimals = d
		}
		if d, ok := decimals[p.TokenB]; ok {
			p.TokenBDecimals = d
		}
	}

	return nil
}

// populateConcentratedBatch hydrates one chunk of concentrated-liquidity
// pools in place, sampling every field at the given block so price, tick and
// liquidity are mutually consistent.
func populateConcentratedBatch(ctx context.Context, backend chain.Backend, pools []*ConcentratedLiquidityPool, block *big.Int) error {
	const callsPerPool = 6

	token0Data, _ := concentratedPoolABI.Pack("token0")
	token1Data, _ := concentratedPoolABI.Pack("token1")
	feeData, _ := concentratedPoolABI.Pack("fee")
	tickSpacingData, _ := concentratedPoolABI.Pack("tickSpacing")
	liquidityData, _ := concentratedPoolABI.Pack("liquidity")
	slot0Data, _ := concentratedPoolABI.Pack("slot0")

	calls := make([]chain.Call, 0, len(pools)*callsPerPool)
	for _, p := range pools {
		calls = append(calls,
			chain.Call{Target: p.PoolAddress, CallData: token0Data},
			chain.Call{Target: p.PoolAddress, CallData: token1Data},
			chain.Call{Target: p.PoolAddress, CallData: feeData},
			chain.Call{Target: p.PoolAddress, CallData: tickSpacingData},
			chain.Call{Target: p.PoolAddress, CallData: liquidityData},
			chain.Call{Target: p.PoolAddress, CallData: slot0Data},
		)
	}

	results, err := backend.BatchCallAt(ctx, calls, block)
	if err != nil {
		return err
	}
	if len(results) != len(calls) {
		return fmt.Errorf("batch returned %d results, want %d", len(results), len(calls))
	}

	hydrated := make([]*ConcentratedLiquidityPool, 0, len(pools))
	for i, p := range pools {
		slice := results[i*callsPerPool : (i+1)*callsPerPool]
		ok := true
		for _, r := range slice {
			if !r.Success {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		if err := concentratedPoolABI.UnpackIntoInterface(&p.TokenA, "token0", slice[0].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		if err := concentratedPoolABI.UnpackIntoInterface(&p.TokenB, "token1", slice[1].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}

		var fee *big.Int
		if err := concentratedPoolABI.UnpackIntoInterface(&fee, "fee", slice[2].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		p.Fee = uint32(fee.Uint64())

		var tickSpacing *big.Int
		if err := concentratedPoolABI.UnpackIntoInterface(&tickSpacing, "tickSpacing", slice[3].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		p.TickSpacing = int32(tickSpacing.Int64())

		if err := concentratedPoolABI.UnpackIntoInterface(&p.Liquidity, "liquidity", slice[4].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}

		slot0 := struct {
			SqrtPriceX96               *big.Int
			Tick                       *big.Int
			ObservationIndex           uint16
			ObservationCardinality     uint16
			ObservationCardinalityNext uint16
			FeeProtocol                uint8
			Unlocked                   bool
		}{}
		if err := concentratedPoolABI.UnpackIntoInterface(&slot0, "slot0", slice[5].Data); err != nil {
			return &BatchError{Pool: p.PoolAddress, Err: err}
		}
		p.SqrtPriceX96 = slot0.SqrtPriceX96
		p.Tick = int32(slot0.Tick.Int64())

		hydrated = append(hydrated, p)
	}

	decimals, err := fetchTokenDecimals(ctx, backend, tokensOfConcentrated(hydrated), block)
	if err != nil {
		return err
	}
	for _, p := range hydrated {
		if d, ok := decimals[p.TokenA]; ok {
			p.TokenADecimals = d
		}
		if d, ok := decimals[p.TokenB]; ok {
			p.TokenBDecimals = d
		}
	}

	return populateTickMaps(ctx, backend, hydrated, block)
}

// populateTickMaps fetches the tick bitmap words around each pool's current
// tick and the net liquidity of the initialized ticks inside them.
func populateTickMaps(ctx context.Context, backend chain.Backend, pools []*ConcentratedLiquidityPool, block *big.Int) error {
	type wordRef struct {
		pool *ConcentratedLiquidityPool
		word int16
	}

	var bitmapCalls []chain.Call
	var wordRefs []wordRef
	for _, p := range pools {
		if p.TickSpacing == 0 {
			continue
		}
		if p.TickBitmap == nil {
			p.TickBitmap = make(map[int16]*big.Int)
		}
		word := tickWord(p.Tick, p.TickSpacing)
		for _, w := range []int16{word - 1, word, word + 1} {
			data, err := concentratedPoolABI.Pack("tickBitmap", w)
			if err != nil {
				return fmt.Errorf("packing tickBitmap(%d): %w", w, err)
			}
			bitmapCalls = append(bitmapCalls, chain.Call{Target: p.PoolAddress, CallData: data})
			wordRefs = append(wordRefs, wordRef{pool: p, word: w})
		}
	}
	if len(bitmapCalls) == 0 {
		return nil
	}

	results, err := backend.BatchCallAt(ctx, bitmapCalls, block)
	if err != nil {
		return err
	}

	type tickRef struct {
		pool *ConcentratedLiquidityPool
		tick int32
	}
	var tickCalls []chain.Call
	var tickRefs []tickRef
	perPoolTicks := make(map[common.Address][]int32)

	for i, r := range results {
		if i >= len(wordRefs) || !r.Success {
			continue
		}
		ref := wordRefs[i]
		bitmap := new(big.Int).SetBytes(r.Data)
		ref.pool.TickBitmap[ref.word] = bitmap
		for _, tick := range initializedTicks(ref.word, bitmap, ref.pool.TickSpacing) {
			perPoolTicks[ref.pool.PoolAddress] = append(perPoolTicks[ref.pool.PoolAddress], tick)
		}
	}

	for _, p := range pools {
		ticks := perPoolTicks[p.PoolAddress]
		// Nearest ticks first, bounded per pool.
		sort.Slice(ticks, func(i, j int) bool {
			return absInt32(ticks[i]-p.Tick) < absInt32(ticks[j]-p.Tick)
		})
		if len(ticks) > maxTicksPerPool {
			ticks = ticks[:maxTicksPerPool]
		}
		if p.LiquidityNet == nil {
			p.LiquidityNet = make(map[int32]*big.Int)
		}
		for _, tick := range ticks {
			data, err := concentratedPoolABI.Pack("ticks", big.NewInt(int64(tick)))
			if err != nil {
				return fmt.Errorf("packing ticks(%d): %w", tick, err)
			}
			tickCalls = append(tickCalls, chain.Call{Target: p.PoolAddress, CallData: data})
			tickRefs = append(tickRefs, tickRef{pool: p, tick: tick})
		}
	}
	if len(tickCalls) == 0 {
		return nil
	}

	tickResults, err := backend.BatchCallAt(ctx, tickCalls, block)
	if err != nil {
		return err
	}
	for i, r := range tickResults {
		if i >= len(tickRefs) || !r.Success {
			continue
		}
		ref := tickRefs[i]
		tickInfo := struct {
			LiquidityGross                 *big.Int
			LiquidityNet                   *big.Int
			FeeGrowthOutside0X128          *big.Int
			FeeGrowthOutside1X128          *big.Int
			TickCumulativeOutside          *big.Int
			SecondsPerLiquidityOutsideX128 *big.Int
			SecondsOutside                 uint32
			Initialized                    bool
		}{}
		if err := concentratedPoolABI.UnpackIntoInterface(&tickInfo, "ticks", r.Data); err != nil {
			return &BatchError{Pool: ref.pool.PoolAddress, Err: err}
		}
		ref.pool.LiquidityNet[ref.tick] = tickInfo.LiquidityNet
	}

	return nil
}

// populateVaultShare hydrates a single vault: its underlying asset, totals
// and both decimals.
func populateVaultShare(ctx context.Context, backend chain.Backend, p *VaultSharePool, block *big.Int) error {
	assetData, _ := vaultABI.Pack("asset")
	totalAssetsData, _ := vaultABI.Pack("totalAssets")
	totalSupplyData, _ := vaultABI.Pack("totalSupply")
	decimalsData, _ := vaultABI.Pack("decimals")

	calls := []chain.Call{
		{Target: p.VaultToken, CallData: assetData},
		{Target: p.VaultToken, CallData: totalAssetsData},
		{Target: p.VaultToken, CallData: totalSupplyData},
		{Target: p.VaultToken, CallData: decimalsData},
	}

	results, err := backend.BatchCallAt(ctx, calls, block)
	if err != nil {
		return err
	}
	if len(results) != len(calls) {
		return fmt.Errorf("batch returned %d results, want %d", len(results), len(calls))
	}

	for _, r := range results {
		if !r.Success {
			// Leave the vault zeroed; the pruning pass drops it.
			return nil
		}
	}

	if err := vaultABI.UnpackIntoInterface(&p.AssetToken, "asset", results[0].Data); err != nil {
		return &BatchError{Pool: p.VaultToken, Err: err}
	}
	if err := vaultABI.UnpackIntoInterface(&p.TotalAssets, "totalAssets", results[1].Data); err != nil {
		return &BatchError{Pool: p.VaultToken, Err: err}
	}
	if err := vaultABI.UnpackIntoInterface(&p.TotalSupply, "totalSupply", results[2].Data); err != nil {
		return &BatchError{Pool: p.VaultToken, Err: err}
	}
	var vaultDecimals uint8
	if err := vaultABI.UnpackIntoInterface(&vaultDecimals, "decimals", results[3].Data); err != nil {
		return &BatchError{Pool: p.VaultToken, Err: err}
	}
	p.VaultTokenDecimals = vaultDecimals

	decimals, err := fetchTokenDecimals(ctx, backend, []common.Address{p.AssetToken}, block)
	if err != nil {
		return err
	}
	if d, ok := decimals[p.AssetToken]; ok {
		p.AssetTokenDecimals = d
	}

	return nil
}

// fetchTokenDecimals reads decimals for the given tokens in one batched call.
// Tokens whose call fails keep the zero value.
func fetchTokenDecimals(ctx context.Context, backend chain.Backend, tokens []common.Address, block *big.Int) (map[common.Address]uint8, error) {
	unique := make([]common.Address, 0, len(tokens))
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, t := range tokens {
		if t == (common.Address{}) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	decimalsData, _ := erc20ABI.Pack("decimals")
	calls := make([]chain.Call, len(unique))
	for i, t := range unique {
		calls[i] = chain.Call{Target: t, CallData: decimalsData}
	}

	results, err := backend.BatchCallAt(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	decimals := make(map[common.Address]uint8, len(unique))
	for i, r := range results {
		if i >= len(unique) || !r.Success || len(r.Data) == 0 {
			continue
		}
		var d uint8
		if err := erc20ABI.UnpackIntoInterface(&d, "decimals", r.Data); err != nil {
			continue
		}
		decimals[unique[i]] = d
	}

	return decimals, nil
}

func tokensOfConstantProduct(pools []*ConstantProductPool) []common.Address {
	tokens := make([]common.Address, 0, len(pools)*2)
	for _, p := range pools {
		tokens = append(tokens, p.TokenA, p.TokenB)
	}
	return tokens
}

func tokensOfConcentrated(pools []*ConcentratedLiquidityPool) []common.Address {
	tokens := make([]common.Address, 0, len(pools)*2)
	for _, p := range pools {
		tokens = append(tokens, p.TokenA, p.TokenB)
	}
	return tokens
}

// tickWord returns the tick bitmap word index holding the given tick.
func tickWord(tick, spacing int32) int16 {
	compressed := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		compressed--
	}
	return int16(compressed >> 8)
}

// initializedTicks expands a bitmap word into the ticks whose bits are set.
func initializedTicks(word int16, bitmap *big.Int, spacing int32) []int32 {
	if bitmap == nil || bitmap.Sign() == 0 {
		return nil
	}
	var ticks []int32
	for bit := 0; bit < 256; bit++ {
		if bitmap.Bit(bit) == 1 {
			compressed := int32(word)*256 + int32(bit)
			ticks = append(ticks, compressed*spacing)
		}
	}
	return ticks
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
