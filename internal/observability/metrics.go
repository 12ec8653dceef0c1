package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for collection operations.
//
// It satisfies the sifts.Metrics interface, so a single instance can be
// passed to every collection opened by a process:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	coll, err := sifts.New(ctx, url, name, sifts.WithMetrics(metrics))
type Metrics struct {
	// OperationCounter counts collection operations.
	// Labels: backend (sqlite|postgres), operation, status (success|error)
	OperationCounter *prometheus.CounterVec

	// OperationDuration measures operation latency in seconds.
	// Labels: backend, operation
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the sifts metrics with the given
// registerer. Passing nil registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sifts_operations_total",
				Help: "Total number of collection operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sifts_operation_duration_seconds",
				Help:    "Duration of collection operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"backend", "operation"},
		),
	}
}

// RecordOperation records a completed collection operation.
//
// Example:
//
//	start := time.Now()
//	// ... run query ...
//	metrics.RecordOperation("sqlite", "query", "success", time.Since(start).Seconds())
func (m *Metrics) RecordOperation(backend, operation, status string, seconds float64) {
	m.OperationCounter.WithLabelValues(backend, operation, status).Inc()
	m.OperationDuration.WithLabelValues(backend, operation).Observe(seconds)
}
