package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"ammsync/internal/amm"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based persistence for the operational catalog. The
// JSON checkpoint remains the resume mechanism; this store exists so
// operators can query the synced catalog with plain SQL.
type Store struct {
	db *sql.DB
}

// PoolRow represents a pool stored in the database.
type PoolRow struct {
	Address     string
	Variant     string
	TokenA      string
	TokenB      string
	ReserveA    string
	ReserveB    string
	Liquidity   string
	Fee         uint32
	SyncedBlock uint64
	UpdatedAt   time.Time
}

// NewStore creates a new SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			address TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			token_a TEXT NOT NULL,
			token_b TEXT NOT NULL,
			reserve_a TEXT NOT NULL DEFAULT '0',
			reserve_b TEXT NOT NULL DEFAULT '0',
			liquidity TEXT NOT NULL DEFAULT '0',
			fee INTEGER NOT NULL DEFAULT 0,
			synced_block INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_variant ON pools(variant)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_tokens ON pools(token_a, token_b)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceCatalog rewrites the pools table with the given catalog in one
// transaction, so readers always observe a complete snapshot.
func (s *Store) ReplaceCatalog(ctx context.Context, pools []amm.AMM, block uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pools`); err != nil {
		return fmt.Errorf("clearing pools: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pools
		(address, variant, token_a, token_b, reserve_a, reserve_b, liquidity, fee, synced_block, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, pool := range pools {
		row := rowFromPool(pool, block, now)
		if _, err := stmt.ExecContext(ctx,
			row.Address, row.Variant, row.TokenA, row.TokenB,
			row.ReserveA, row.ReserveB, row.Liquidity,
			row.Fee, row.SyncedBlock, row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting pool %s: %w", row.Address, err)
		}
	}

	return tx.Commit()
}

// CatalogSummary returns the pool count per variant.
func (s *Store) CatalogSummary(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant, COUNT(*) FROM pools GROUP BY variant`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var variant string
		var count int
		if err := rows.Scan(&variant, &count); err != nil {
			return nil, fmt.Errorf("scanning catalog summary: %w", err)
		}
		summary[variant] = count
	}
	return summary, rows.Err()
}

// LoadPools returns every stored pool row.
func (s *Store) LoadPools(ctx context.Context) ([]PoolRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, variant, token_a, token_b,
		reserve_a, reserve_b, liquidity, fee, synced_block, updated_at FROM pools`)
	if err != nil {
		return nil, fmt.Errorf("querying pools: %w", err)
	}
	defer rows.Close()

	var pools []PoolRow
	for rows.Next() {
		var row PoolRow
		if err := rows.Scan(&row.Address, &row.Variant, &row.TokenA, &row.TokenB,
			&row.ReserveA, &row.ReserveB, &row.Liquidity,
			&row.Fee, &row.SyncedBlock, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning pool: %w", err)
		}
		pools = append(pools, row)
	}
	return pools, rows.Err()
}

func rowFromPool(pool amm.AMM, block uint64, now time.Time) PoolRow {
	row := PoolRow{
		Address:     pool.Address().Hex(),
		Variant:     pool.Kind().String(),
		SyncedBlock: block,
		UpdatedAt:   now,
		ReserveA:    "0",
		ReserveB:    "0",
		Liquidity:   "0",
	}

	switch p := pool.(type) {
	case *amm.ConstantProductPool:
		row.TokenA = p.TokenA.Hex()
		row.TokenB = p.TokenB.Hex()
		row.ReserveA = bigOrZero(p.ReserveA)
		row.ReserveB = bigOrZero(p.ReserveB)
		row.Fee = p.Fee
	case *amm.ConcentratedLiquidityPool:
		row.TokenA = p.TokenA.Hex()
		row.TokenB = p.TokenB.Hex()
		row.Liquidity = bigOrZero(p.Liquidity)
		row.Fee = p.Fee
	case *amm.VaultSharePool:
		row.TokenA = p.VaultToken.Hex()
		row.TokenB = p.AssetToken.Hex()
		row.ReserveA = bigOrZero(p.TotalSupply)
		row.ReserveB = bigOrZero(p.TotalAssets)
		row.Fee = p.Fee
	}

	return row
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
