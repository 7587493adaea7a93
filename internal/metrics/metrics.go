// Package metrics provides Prometheus instrumentation for engine operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	OpsTotal   *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec
}

// New creates and registers the collectors on the given registerer.
// Returns nil when reg is nil so callers can skip instrumentation entirely.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		OpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eav_ops_total",
				Help: "Total number of engine operations",
			},
			[]string{"op", "status"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eav_op_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// Observe records one completed operation. Safe to call on a nil receiver.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OpsTotal.WithLabelValues(op, status).Inc()
	m.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
