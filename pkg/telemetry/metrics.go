package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for configuration sessions.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	sessionsStarted *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	// Evaluation metrics
	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	evaluationPasses   prometheus.Histogram
	backtracks         prometheus.Histogram
	violations         *prometheus.CounterVec

	// Edit metrics
	editsRejected *prometheus.CounterVec

	// Context provider metrics
	contextLookups        *prometheus.CounterVec
	contextLookupDuration *prometheus.HistogramVec

	// Model metrics
	modelLoads        *prometheus.CounterVec
	modelLoadDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	countBuckets := []float64{1, 2, 3, 5, 8, 13, 21, 34, 64, 128}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of configuration sessions started",
			},
			[]string{"root_type"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of open configuration sessions",
			},
		),

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of evaluations by terminal state",
			},
			[]string{"state"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),
		evaluationPasses: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_passes",
				Help:      "Number of fixpoint passes per evaluation",
				Buckets:   countBuckets,
			},
		),
		backtracks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_backtracks",
				Help:      "Number of backtracking attempts per evaluation",
				Buckets:   countBuckets,
			},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "constraint_violations_total",
				Help:      "Total number of violated constraints handed to backtracking",
			},
			[]string{"type"},
		),

		editsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edits_rejected_total",
				Help:      "Total number of rejected session edits by error code",
			},
			[]string{"code"},
		),

		contextLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_lookups_total",
				Help:      "Total number of context provider lookups",
			},
			[]string{"outcome"},
		),
		contextLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_lookup_duration_seconds",
				Help:      "Duration of context provider lookups in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		modelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_loads_total",
				Help:      "Total number of model loads",
			},
			[]string{"format", "status"},
		),
		modelLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_load_duration_seconds",
				Help:      "Duration of model loads in seconds",
				Buckets:   buckets,
			},
			[]string{"format"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.activeSessions,
		m.evaluations,
		m.evaluationDuration,
		m.evaluationPasses,
		m.backtracks,
		m.violations,
		m.editsRejected,
		m.contextLookups,
		m.contextLookupDuration,
		m.modelLoads,
		m.modelLoadDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Session Metrics

// RecordSessionStarted counts a new session.
func (m *Metrics) RecordSessionStarted(rootType string) {
	if m == nil || m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(rootType).Inc()
	m.activeSessions.Inc()
}

// RecordSessionClosed decrements the open session gauge.
func (m *Metrics) RecordSessionClosed() {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Dec()
}

// Evaluation Metrics

// RecordEvaluation records a finished evaluation.
func (m *Metrics) RecordEvaluation(state string, passes, backtracks int, duration time.Duration) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(state).Inc()
	m.evaluationDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.evaluationPasses.Observe(float64(passes))
	m.backtracks.Observe(float64(backtracks))
}

// RecordViolation counts a constraint violation on an instance type.
func (m *Metrics) RecordViolation(typeName string) {
	if m == nil || m.violations == nil {
		return
	}
	m.violations.WithLabelValues(typeName).Inc()
}

// RecordEditRejected counts a rejected session edit.
func (m *Metrics) RecordEditRejected(code string) {
	if m == nil || m.editsRejected == nil {
		return
	}
	m.editsRejected.WithLabelValues(code).Inc()
}

// Context Metrics

// RecordContextLookup records a context provider lookup.
func (m *Metrics) RecordContextLookup(outcome string, duration time.Duration) {
	if m == nil || m.contextLookups == nil {
		return
	}
	m.contextLookups.WithLabelValues(outcome).Inc()
	m.contextLookupDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Model Metrics

// RecordModelLoad records a model load by document format.
func (m *Metrics) RecordModelLoad(format, status string, duration time.Duration) {
	if m == nil || m.modelLoads == nil {
		return
	}
	m.modelLoads.WithLabelValues(format, status).Inc()
	m.modelLoadDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the metrics registry, or nil when metrics are disabled.
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
