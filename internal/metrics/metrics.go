// Package metrics provides Prometheus metrics for a harvest run.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for a run.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Fetch metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageItems      *prometheus.GaugeVec

	// Feed metrics
	FeedRows *prometheus.GaugeVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and registers all metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_requests_total",
			Help: "Total number of API requests by pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_request_duration_seconds",
			Help:    "API request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	stageItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvest_stage_items",
			Help: "Number of items produced by each pipeline stage",
		},
		[]string{"stage"},
	)

	feedRows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvest_feed_rows",
			Help: "Number of rows in each assembled feed table",
		},
		[]string{"table"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvest_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		stageItems,
		feedRows,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
		StageItems:         stageItems,
		FeedRows:           feedRows,
		DBConnectionsOpen:  dbConnectionsOpen,
		DBConnectionsInUse: dbConnectionsInUse,
		DBConnectionsIdle:  dbConnectionsIdle,
		DBWaitSecondsTotal: dbWaitSecondsTotal,
		logger:             logger,
	}
}

// ObserveRequest records one API request of a stage. A nil receiver is a no-op.
func (m *Metrics) ObserveRequest(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.RequestsTotal.WithLabelValues(stage, outcome).Inc()
	m.RequestDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// SetStageItems records how many items a stage produced.
func (m *Metrics) SetStageItems(stage string, n int) {
	if m == nil {
		return
	}
	m.StageItems.WithLabelValues(stage).Set(float64(n))
}

// SetFeedRows records the row count of an assembled table.
func (m *Metrics) SetFeedRows(table string, n int) {
	if m == nil {
		return
	}
	m.FeedRows.WithLabelValues(table).Set(float64(n))
}

// WriteTextfile writes the registry in the text exposition format, suitable
// for the node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics. It is idempotent; call Shutdown to stop it.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.collectDBStats(db, &lastWaitDuration)
			case <-ctx.Done():
				// One final sample so short-lived imports are still reported.
				m.collectDBStats(db, &lastWaitDuration)
				return
			}
		}
	}()
}

func (m *Metrics) collectDBStats(db *sql.DB, lastWait *time.Duration) {
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))

	waitDelta := stats.WaitDuration - *lastWait
	if waitDelta > 0 {
		m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
	}
	*lastWait = stats.WaitDuration
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// It is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
