// Package metrics exposes Prometheus counters and histograms for the
// controller: breakpoint hits, suspension durations, evaluation counts,
// and active session gauges. Follows a registry-per-instance shape
// applied to debug-session concerns instead of HTTP request/response
// concerns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures metric naming.
type Config struct {
	Namespace string
	Subsystem string
	// SuspensionBuckets bounds the histogram of how long a task stays
	// suspended at a breakpoint or step, in seconds.
	SuspensionBuckets []float64
}

// DefaultConfig returns the namespace/subsystem/bucket defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:         "dbug",
		Subsystem:         "controller",
		SuspensionBuckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	}
}

// Metrics holds all Prometheus collectors for one controller instance.
type Metrics struct {
	breakpointHits     *prometheus.CounterVec
	suspensionDuration *prometheus.HistogramVec
	evaluations        *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	asyncTasksSpawned  prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg = DefaultConfig()
	}
	if len(cfg.SuspensionBuckets) == 0 {
		cfg.SuspensionBuckets = DefaultConfig().SuspensionBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.breakpointHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "breakpoint_hits_total",
		Help:      "Total number of breakpoint suspensions by file.",
	}, []string{"file"})

	m.suspensionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "suspension_duration_seconds",
		Help:      "Time a task spent suspended before resuming.",
		Buckets:   cfg.SuspensionBuckets,
	}, []string{"reason"})

	m.evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "evaluations_total",
		Help:      "Total number of expression evaluations requested.",
	}, []string{"outcome"})

	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "active_sessions",
		Help:      "Number of currently attached debug sessions (0 or 1).",
	})

	m.asyncTasksSpawned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "async_tasks_spawned_total",
		Help:      "Total number of async tasks spawned across all sessions.",
	})

	registry.MustRegister(m.breakpointHits, m.suspensionDuration, m.evaluations, m.activeSessions, m.asyncTasksSpawned)
	return m
}

// ObserveBreakpointHit records a breakpoint suspension for file.
func (m *Metrics) ObserveBreakpointHit(file string) {
	m.breakpointHits.WithLabelValues(file).Inc()
}

// ObserveSuspension records how long a task stayed suspended before reason
// (e.g. "continue", "step-over", "detach") resumed it.
func (m *Metrics) ObserveSuspension(reason string, d time.Duration) {
	m.suspensionDuration.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveEvaluation records one expression evaluation's outcome ("ok" or
// "error").
func (m *Metrics) ObserveEvaluation(outcome string) {
	m.evaluations.WithLabelValues(outcome).Inc()
}

// SetActiveSessions updates the active-session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncAsyncTasksSpawned increments the async-task counter.
func (m *Metrics) IncAsyncTasksSpawned() {
	m.asyncTasksSpawned.Inc()
}

// Handler returns an http.Handler serving this instance's registry in the
// Prometheus exposition format, to be mounted at e.g. /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
