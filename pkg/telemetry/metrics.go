package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Metrics provides Prometheus metrics for CloudSim.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Resource metrics
	operations *prometheus.CounterVec
	resources  *prometheus.GaugeVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of provision and destroy runs started",
			},
			[]string{"operation"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource operations by outcome",
			},
			[]string{"kind", "action", "outcome"},
		),
		resources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Current number of simulated resources",
			},
			[]string{"kind", "state"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"kind", "code"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of guardrail violations",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.operations,
		m.resources,
		m.errorsByCode,
		m.policyViolations,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(operation string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordOperation counts a resource operation and, on failure, its error code.
func (m *Metrics) RecordOperation(kind engine.Kind, action engine.Action, err error) {
	if m.operations == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.RecordError(kind, engine.CodeOf(err))
	}
	m.operations.WithLabelValues(string(kind), string(action), outcome).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(kind engine.Kind, code string) {
	if m.errorsByCode == nil {
		return
	}
	if code == "" {
		code = "UNCLASSIFIED"
	}
	m.errorsByCode.WithLabelValues(string(kind), code).Inc()
}

// RecordPolicyViolation records a guardrail violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// SetResourceCounts replaces the resource gauges for kind with counts.
func (m *Metrics) SetResourceCounts(kind engine.Kind, counts map[engine.State]int) {
	if m.resources == nil {
		return
	}
	m.resources.DeletePartialMatch(prometheus.Labels{"kind": string(kind)})
	for state, n := range counts {
		m.resources.WithLabelValues(string(kind), string(state)).Set(float64(n))
	}
}

// Observer returns an engine.Observer that counts every reported change.
func (m *Metrics) Observer() engine.Observer {
	return engine.ObserverFunc(func(_ context.Context, c engine.Change) {
		m.RecordOperation(c.Kind, c.Action, c.Err)
	})
}

// Registry exposes the underlying Prometheus registry. It is nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer returns an HTTP server exposing metrics on the configured
// listen address, or nil when no dedicated address is set.
func (m *Metrics) NewMetricsServer() *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
