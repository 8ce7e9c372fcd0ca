// Package metrics provides Prometheus metrics for the fulfillment engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	TransitionsApplied   *prometheus.CounterVec
	TransitionsNoop      prometheus.Counter
	TransitionsRejected  *prometheus.CounterVec
	DispensationsBlocked prometheus.Counter
	StockAdjustments     *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	OutboxPending        prometheus.Gauge
	AuditEventsPublished prometheus.Counter
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		TransitionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_transitions_total",
			Help: "Applied fulfillment state transitions",
		}, []string{"action"}),
		TransitionsNoop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_transitions_noop_total",
			Help: "Transitions absorbed as idempotent no-ops",
		}),
		TransitionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_transitions_rejected_total",
			Help: "Transitions rejected by the state machine or validation",
		}, []string{"reason"}),
		DispensationsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_dispensations_blocked_total",
			Help: "Dispensations blocked by insufficient stock",
		}),
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_adjustments_total",
			Help: "Stock quantity adjustments",
		}, []string{"direction"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fulfillment_request_duration_seconds",
			Help:    "API request handling duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_outbox_pending_entries",
			Help: "Audit outbox entries not yet relayed",
		}),
		AuditEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Audit events published to the reporting topic",
		}),
	}

	prometheus.MustRegister(
		m.TransitionsApplied,
		m.TransitionsNoop,
		m.TransitionsRejected,
		m.DispensationsBlocked,
		m.StockAdjustments,
		m.RequestDuration,
		m.OutboxPending,
		m.AuditEventsPublished,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
