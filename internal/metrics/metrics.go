package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ammsync/internal/amm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Catalog metrics
	PoolsInCatalog  *prometheus.GaugeVec
	LastSyncedBlock prometheus.Gauge

	// Sync metrics
	SyncDuration prometheus.Histogram
	PoolsPruned  prometheus.Counter

	server *http.Server
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		PoolsInCatalog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ammsync_pools_in_catalog",
				Help: "Number of pools in the catalog by variant",
			},
			[]string{"variant"},
		),
		LastSyncedBlock: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ammsync_last_synced_block",
				Help: "Block height of the last completed sync",
			},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ammsync_sync_duration_seconds",
				Help:    "Duration of full sync cycles",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~14min
			},
		),
		PoolsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ammsync_pools_pruned_total",
				Help: "Total number of degenerate pools dropped during syncs",
			},
		),
	}

	prometheus.MustRegister(
		m.PoolsInCatalog,
		m.LastSyncedBlock,
		m.SyncDuration,
		m.PoolsPruned,
	)

	return m
}

// ObserveSync records the outcome of one completed sync cycle.
func (m *Metrics) ObserveSync(pools []amm.AMM, block uint64, elapsed time.Duration) {
	counts := make(map[amm.Kind]int)
	for _, p := range pools {
		counts[p.Kind()]++
	}
	for _, kind := range []amm.Kind{amm.KindConstantProduct, amm.KindConcentratedLiquidity, amm.KindVaultShare} {
		m.PoolsInCatalog.WithLabelValues(kind.String()).Set(float64(counts[kind]))
	}
	m.LastSyncedBlock.Set(float64(block))
	m.SyncDuration.Observe(elapsed.Seconds())
}

// AddPruned counts degenerate pools dropped by the pruning pass.
func (m *Metrics) AddPruned(n int) {
	if n > 0 {
		m.PoolsPruned.Add(float64(n))
	}
}

// StartServer starts the HTTP metrics server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
