package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the sync orchestrator.
type Metrics struct {
	SweepsRun      *prometheus.CounterVec
	SweepsSkipped  *prometheus.CounterVec
	RecordsSynced  prometheus.Counter
	RecordsFailed  prometheus.Counter
	PendingRecords prometheus.Gauge
	FailedRecords  prometheus.Gauge
	SyncedRecords  prometheus.Gauge
}

// New creates and registers the orchestrator metrics.
func New() *Metrics {
	return &Metrics{
		SweepsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tracient_sync_sweeps_total",
			Help: "Total sweep invocations by sweep type",
		}, []string{"sweep"}),
		SweepsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tracient_sync_sweeps_skipped_total",
			Help: "Sweep firings skipped because the previous invocation was still running",
		}, []string{"sweep"}),
		RecordsSynced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracient_sync_records_synced_total",
			Help: "Wage records successfully committed to the ledger",
		}),
		RecordsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracient_sync_submission_failures_total",
			Help: "Failed wage record submission attempts",
		}),
		PendingRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tracient_sync_pending_records",
			Help: "Wage records currently awaiting ledger sync",
		}),
		FailedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tracient_sync_failed_records",
			Help: "Wage records currently in failed state",
		}),
		SyncedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tracient_sync_synced_records",
			Help: "Wage records committed to the ledger",
		}),
	}
}
