package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ammsync/internal/amm"
	"ammsync/internal/chain"
	"ammsync/internal/config"
	"ammsync/internal/metrics"
	"ammsync/internal/persistence"
	ammsync "ammsync/internal/sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	fullResync := flag.Bool("full-resync", false, "Ignore an existing checkpoint and sync from genesis")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Logging)
	log.Info().Msg("Starting ammsync - AMM pool discovery and synchronization")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, *fullResync); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("ammsync complete")
}

func run(ctx context.Context, cfg *config.Config, fullResync bool) error {
	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	// Initialize RPC client
	client, err := chain.NewClient(cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().Msg("RPC client connected")

	opts := []ammsync.Option{ammsync.WithTaskLimit(cfg.Sync.TaskLimit)}
	if m != nil {
		opts = append(opts, ammsync.WithMetrics(m))
	}

	var pools []amm.AMM
	var block uint64

	checkpointPath := cfg.Sync.CheckpointPath
	if !fullResync && checkpointExists(checkpointPath) {
		log.Info().Str("path", checkpointPath).Msg("Resuming from checkpoint")
		_, pools, err = ammsync.SyncPoolsFromCheckpoint(ctx, client, checkpointPath, cfg.Sync.Step, opts...)
		if err != nil {
			return err
		}
		_, block, err = ammsync.DeconstructCheckpoint(checkpointPath)
		if err != nil {
			return err
		}
	} else {
		factories, err := buildFactories(cfg.Factories)
		if err != nil {
			return err
		}
		pools, block, err = ammsync.SyncPools(ctx, client, factories, checkpointPath, cfg.Sync.Step, opts...)
		if err != nil {
			return err
		}
	}

	// Persist the catalog for SQL inspection
	if cfg.Persistence.Enabled {
		store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ReplaceCatalog(ctx, pools, block); err != nil {
			return err
		}
		summary, err := store.CatalogSummary(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Str("path", cfg.Persistence.SQLitePath).
			Interface("variants", summary).
			Msg("Catalog persisted")
	}

	logCatalogSample(pools, block)
	return nil
}

// logCatalogSample logs a handful of pools with decimal-normalized prices so
// a sync run ends with something human-readable.
func logCatalogSample(pools []amm.AMM, block uint64) {
	const sampleSize = 5

	log.Info().Int("pools", len(pools)).Uint64("block", block).Msg("Catalog synced")

	for i, pool := range pools {
		if i == sampleSize {
			break
		}
		price, err := amm.MidPrice(pool)
		if err != nil {
			continue
		}
		log.Info().
			Str("pool", pool.Address().Hex()).
			Str("variant", pool.Kind().String()).
			Str("mid_price", price.String()).
			Msg("Pool sample")
	}
}

func buildFactories(configs []config.FactoryConfig) ([]amm.Factory, error) {
	factories := make([]amm.Factory, 0, len(configs))
	for _, fc := range configs {
		address := common.HexToAddress(fc.Address)
		switch fc.Variant {
		case "constant_product":
			factories = append(factories, amm.NewConstantProductFactory(address, fc.CreationBlock, fc.Fee))
		case "concentrated_liquidity":
			factories = append(factories, amm.NewConcentratedLiquidityFactory(address, fc.CreationBlock))
		}
	}
	return factories, nil
}

func checkpointExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
