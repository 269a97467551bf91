// Package metrics exposes engine counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inbox"

// Engine holds the sync engine collectors. A nil *Engine records nothing.
type Engine struct {
	registry *prometheus.Registry

	pollCycles    *prometheus.CounterVec
	pollSkipped   *prometheus.CounterVec
	pollLatency   prometheus.Histogram
	reconciled    *prometheus.CounterVec
	sends         *prometheus.CounterVec
	stale         *prometheus.CounterVec
	notifications prometheus.Counter
	skippedItems  prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Engine {
	e := &Engine{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by result.",
		}, []string{"result"}),
		pollSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_skipped_total",
			Help:      "Poll ticks skipped by reason.",
		}, []string{"reason"}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_seconds",
			Help:      "Poll cycle duration.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_merges_total",
			Help:      "Reconciler merges by change kind.",
		}, []string{"change"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Optimistic sends by outcome.",
		}, []string{"outcome"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Responses discarded because the view moved on.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "New message notifications emitted.",
		}),
		skippedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_items_total",
			Help:      "Malformed server items skipped during merges.",
		}),
	}
	e.registry.MustRegister(
		e.pollCycles,
		e.pollSkipped,
		e.pollLatency,
		e.reconciled,
		e.sends,
		e.stale,
		e.notifications,
		e.skippedItems,
	)
	return e
}

// Registry returns the private registry.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the prometheus text format.
func (e *Engine) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Engine) PollCycle(result string, elapsed time.Duration) {
	if e == nil {
		return
	}
	e.pollCycles.WithLabelValues(result).Inc()
	e.pollLatency.Observe(elapsed.Seconds())
}

func (e *Engine) PollSkipped(reason string) {
	if e == nil {
		return
	}
	e.pollSkipped.WithLabelValues(reason).Inc()
}

func (e *Engine) Reconciled(change string, skipped int) {
	if e == nil {
		return
	}
	e.reconciled.WithLabelValues(change).Inc()
	if skipped > 0 {
		e.skippedItems.Add(float64(skipped))
	}
}

func (e *Engine) Send(outcome string) {
	if e == nil {
		return
	}
	e.sends.WithLabelValues(outcome).Inc()
}

func (e *Engine) Stale(reason string) {
	if e == nil {
		return
	}
	e.stale.WithLabelValues(reason).Inc()
}

func (e *Engine) Notified() {
	if e == nil {
		return
	}
	e.notifications.Inc()
}
