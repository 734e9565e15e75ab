package orchestrator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors.
type Metrics struct {
	RunsEnqueued prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	RunsInFlight prometheus.Gauge
	HealAttempts *prometheus.CounterVec
	registry     *prometheus.Registry
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RunsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specforge_runs_enqueued_total",
			Help: "Run jobs enqueued.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specforge_runs_finished_total",
			Help: "Run jobs that reached a terminal status.",
		}, []string{"status", "kind"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "specforge_run_duration_seconds",
			Help:    "Wall-clock duration of runner processes.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specforge_runs_in_flight",
			Help: "Run jobs currently executing.",
		}),
		HealAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specforge_heal_attempts_total",
			Help: "Self-healing attempts by outcome.",
		}, []string{"outcome"}),
		registry: reg,
	}
	reg.MustRegister(m.RunsEnqueued, m.RunsFinished, m.RunDuration, m.RunsInFlight, m.HealAttempts)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
