package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry             *prometheus.Registry
	RunInProgress        prometheus.Gauge
	RunDuration          prometheus.Histogram
	RunProgress          prometheus.Gauge
	PhaseDuration        *prometheus.HistogramVec
	CommandsTotal        *prometheus.CounterVec
	DependenciesFound    *prometheus.CounterVec
	TablesTruncatedTotal prometheus.Counter
	RowsRemovedTotal     prometheus.Counter
	ReconciliationErrors *prometheus.CounterVec
	RunOutcomeTotal      *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec
}

// NewMetricsStore creates and registers Prometheus metrics.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Store{
		Registry: registry,
		RunInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dbtruncate_up",
			Help: "Indicates if a truncation run is currently in progress (1 = running, 0 = idle).",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbtruncate_run_duration_seconds",
			Help:    "Duration of the entire truncation run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		RunProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dbtruncate_run_progress_ratio",
			Help: "Share of planned commands already executed in the current run (0..1). Advisory only.",
		}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbtruncate_phase_duration_seconds",
			Help:    "Duration histogram per run phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbtruncate_commands_total",
			Help: "Generated commands executed (or rendered in what-if mode), labeled by phase, dependency kind and status.",
		}, []string{"phase", "kind", "status"}), // status: ok, failed, rendered
		DependenciesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbtruncate_dependencies_found_total",
			Help: "Blocking dependencies discovered, labeled by kind.",
		}, []string{"kind"}),
		TablesTruncatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbtruncate_tables_truncated_total",
			Help: "Tables truncated and verified empty.",
		}),
		RowsRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbtruncate_rows_removed_total",
			Help: "Rows removed by truncation, based on pre-run row counts.",
		}),
		ReconciliationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbtruncate_reconciliation_errors_total",
			Help: "Ledger count mismatches, labeled by checkpoint and kind.",
		}, []string{"checkpoint", "kind"}),
		RunOutcomeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbtruncate_runs_total",
			Help: "Finished runs labeled by final state (committed, partially_committed, rolled_back, planned).",
		}, []string{"state"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbtruncate_errors_total",
			Help: "Errors outside the run itself, labeled by type (connection, credentials, ...).",
		}, []string{"type"}),
	}
}
