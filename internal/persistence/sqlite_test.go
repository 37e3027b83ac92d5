package persistence

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"ammsync/internal/amm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReplaceCatalogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pools := []amm.AMM{
		&amm.ConstantProductPool{
			PoolAddress: common.HexToAddress("0x1111"),
			TokenA:      common.HexToAddress("0xA1"),
			TokenB:      common.HexToAddress("0xA2"),
			ReserveA:    big.NewInt(100),
			ReserveB:    big.NewInt(200),
			Fee:         3000,
		},
		&amm.ConcentratedLiquidityPool{
			PoolAddress: common.HexToAddress("0x2222"),
			TokenA:      common.HexToAddress("0xA1"),
			TokenB:      common.HexToAddress("0xA3"),
			Liquidity:   big.NewInt(999),
			Fee:         500,
		},
	}

	require.NoError(t, store.ReplaceCatalog(ctx, pools, 1500))

	rows, err := store.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byAddress := make(map[string]PoolRow)
	for _, row := range rows {
		byAddress[row.Address] = row
	}

	cp := byAddress[common.HexToAddress("0x1111").Hex()]
	require.Equal(t, "constant_product", cp.Variant)
	require.Equal(t, "100", cp.ReserveA)
	require.Equal(t, uint32(3000), cp.Fee)
	require.EqualValues(t, 1500, cp.SyncedBlock)

	cl := byAddress[common.HexToAddress("0x2222").Hex()]
	require.Equal(t, "concentrated_liquidity", cl.Variant)
	require.Equal(t, "999", cl.Liquidity)
}

func TestReplaceCatalogOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []amm.AMM{&amm.ConstantProductPool{
		PoolAddress: common.HexToAddress("0x1111"),
		TokenA:      common.HexToAddress("0xA1"),
		TokenB:      common.HexToAddress("0xA2"),
	}}
	require.NoError(t, store.ReplaceCatalog(ctx, first, 100))

	second := []amm.AMM{&amm.ConstantProductPool{
		PoolAddress: common.HexToAddress("0x2222"),
		TokenA:      common.HexToAddress("0xA1"),
		TokenB:      common.HexToAddress("0xA2"),
	}}
	require.NoError(t, store.ReplaceCatalog(ctx, second, 200))

	rows, err := store.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, common.HexToAddress("0x2222").Hex(), rows[0].Address)

	summary, err := store.CatalogSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"constant_product": 1}, summary)
}
