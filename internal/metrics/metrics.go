// Package metrics provides Prometheus metrics for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "research_engine"

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Scheduler metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	TicksSkipped *prometheus.CounterVec
	TaskErrors   *prometheus.CounterVec

	// Position metrics
	TradesClosed       *prometheus.CounterVec
	PartialTakeProfits prometheus.Counter
	LowConfidenceFills prometheus.Counter
	OrdersReconciled   *prometheus.CounterVec
	Liquidations       prometheus.Counter

	// Signal metrics
	SignalsCreated  prometheus.Counter
	SignalsRejected *prometheus.CounterVec
	SignalsExpired  prometheus.Counter
	SignalsExecuted *prometheus.CounterVec

	// Price cache metrics
	PriceCacheHits    prometheus.Counter
	PriceCacheMisses  prometheus.Counter
	PriceRESTFallback prometheus.Counter

	// Notification metrics
	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Maintenance and scan task runs by task",
		}, []string{"task"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"task"}),
		TicksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous one was still running",
		}, []string{"job"}),
		TaskErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "errors_total",
			Help:      "Per-entity failures by task and error class",
		}, []string{"task", "class"}),

		TradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Closed trades by close reason",
		}, []string{"reason"}),
		PartialTakeProfits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "partial_take_profits_total",
			Help:      "First-tier take-profit executions",
		}),
		LowConfidenceFills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "low_confidence_fills_total",
			Help:      "Closes whose price fell back to the entry price",
		}),
		OrdersReconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "reconciled_total",
			Help:      "Pending orders resolved by resulting trade status",
		}, []string{"status"}),
		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "margin",
			Name:      "liquidations_total",
			Help:      "Margin positions closed at the liquidation price",
		}),

		SignalsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "created_total",
			Help:      "Signals accepted and persisted",
		}),
		SignalsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "rejected_total",
			Help:      "Analyses that produced no signal, by reason",
		}, []string{"reason"}),
		SignalsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "expired_total",
			Help:      "Pending signals expired by the sweep",
		}),
		SignalsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "outcomes_total",
			Help:      "Signal execution outcomes by status",
		}, []string{"status"}),

		PriceCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "cache_hits_total",
			Help:      "Price lookups served from cache",
		}),
		PriceCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "cache_misses_total",
			Help:      "Price lookups that missed the cache",
		}),
		PriceRESTFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "rest_fallback_total",
			Help:      "Batched REST ticker calls made for cache misses",
		}),

		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notifications delivered",
		}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Notifications that could not be enqueued or delivered",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
