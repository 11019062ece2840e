package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the ledger gateway.
type Metrics struct {
	Connected       prometheus.Gauge
	ConnectAttempts prometheus.Counter
	Calls           *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
}

// New creates and registers the gateway metrics.
func New() *Metrics {
	return &Metrics{
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tracient_ledger_connected",
			Help: "Whether a live ledger connection exists (0 means mock mode)",
		}),
		ConnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracient_ledger_connect_attempts_total",
			Help: "Total ledger connection attempts across initializations",
		}),
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tracient_ledger_calls_total",
			Help: "Total ledger calls by operation and outcome",
		}, []string{"op", "outcome"}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracient_ledger_call_duration_seconds",
			Help:    "Latency of ledger calls by operation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
	}
}

// SetConnected records the current connection state.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// ObserveCall records one gateway call.
func (m *Metrics) ObserveCall(op, outcome string, seconds float64) {
	m.Calls.WithLabelValues(op, outcome).Inc()
	m.CallDuration.WithLabelValues(op).Observe(seconds)
}
