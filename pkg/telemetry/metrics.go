package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the script host.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec

	// Extraction metrics
	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	extractedEntries   prometheus.Counter

	// Component metrics
	componentsCreated *prometheus.CounterVec
	componentsActive  prometheus.Gauge
	scriptExits       *prometheus.CounterVec

	// Deployment metrics
	deployments *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of identifier resolutions by outcome",
			},
			[]string{"factory", "outcome"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of identifier resolution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"factory"},
		),

		extractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Total number of archive extractions",
			},
			[]string{"status"},
		),
		extractionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extraction_duration_seconds",
				Help:      "Duration of archive extraction in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		extractedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extracted_entries_total",
				Help:      "Total number of archive entries written to disk",
			},
		),

		componentsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_created_total",
				Help:      "Total number of component creations",
			},
			[]string{"factory", "status"},
		),
		componentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "components_active",
				Help:      "Current number of started components",
			},
		),
		scriptExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_exits_total",
				Help:      "Total number of hosted script executions that ended",
			},
			[]string{"outcome"},
		),

		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Total number of deployments by status",
			},
			[]string{"status"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.extractions,
		m.extractionDuration,
		m.extractedEntries,
		m.componentsCreated,
		m.componentsActive,
		m.scriptExits,
		m.deployments,
		m.errorsByKind,
	)

	return m, nil
}

// Registry returns the Prometheus registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResolution records a resolution outcome and its duration.
func (m *Metrics) RecordResolution(factory, outcome string, duration time.Duration) {
	if m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(factory, outcome).Inc()
	m.resolutionDuration.WithLabelValues(factory).Observe(duration.Seconds())
}

// RecordExtraction records an archive extraction.
func (m *Metrics) RecordExtraction(status string, entries int, duration time.Duration) {
	if m.extractions == nil {
		return
	}
	m.extractions.WithLabelValues(status).Inc()
	m.extractionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.extractedEntries.Add(float64(entries))
}

// RecordComponentCreated records a component creation attempt.
func (m *Metrics) RecordComponentCreated(factory, status string) {
	if m.componentsCreated == nil {
		return
	}
	m.componentsCreated.WithLabelValues(factory, status).Inc()
}

// ComponentStarted increments the active component gauge.
func (m *Metrics) ComponentStarted() {
	if m.componentsActive == nil {
		return
	}
	m.componentsActive.Inc()
}

// ComponentStopped decrements the active component gauge.
func (m *Metrics) ComponentStopped() {
	if m.componentsActive == nil {
		return
	}
	m.componentsActive.Dec()
}

// RecordScriptExit records the end of a hosted script (ok, exit, fault).
func (m *Metrics) RecordScriptExit(outcome string) {
	if m.scriptExits == nil {
		return
	}
	m.scriptExits.WithLabelValues(outcome).Inc()
}

// RecordDeployment records a deployment by status.
func (m *Metrics) RecordDeployment(status string) {
	if m.deployments == nil {
		return
	}
	m.deployments.WithLabelValues(status).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
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

// StartMetricsServer starts an HTTP server to expose metrics. errFn, when
// non-nil, receives a serve error.
func (m *Metrics) StartMetricsServer(errFn func(error)) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errFn != nil {
			errFn(err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it is running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
