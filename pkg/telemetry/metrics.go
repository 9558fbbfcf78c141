package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for catalysst.
type Metrics struct {
	config MetricsConfig

	// Webhook metrics
	deliveries    *prometheus.CounterVec
	rateLimitHits *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Reconcile metrics
	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Control plane metrics
	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Config metrics
	configReloads *prometheus.CounterVec

	// System metrics
	activeReconciles prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook deliveries by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		rateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "route"},
		),

		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of reconciliations by event and run status",
			},
			[]string{"event", "status"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciliations in seconds",
				Buckets:   buckets,
			},
			[]string{"event"},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of plan actions applied",
			},
			[]string{"operation", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of plan actions in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "control_plane_calls_total",
				Help:      "Total number of control plane API calls",
			},
			[]string{"method", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "control_plane_call_duration_seconds",
				Help:      "Duration of control plane API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
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

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of server defaults reloads by result",
			},
			[]string{"result"},
		),

		activeReconciles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_reconciles",
				Help:      "Current number of reconciliations in flight",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.deliveries,
		m.rateLimitHits,
		m.httpRequests,
		m.httpDuration,
		m.reconciles,
		m.reconcileDuration,
		m.actionsExecuted,
		m.actionDuration,
		m.apiCalls,
		m.apiDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.configReloads,
		m.activeReconciles,
	)

	return m, nil
}

// Webhook Metrics

// RecordDelivery records a webhook delivery and how it was handled.
func (m *Metrics) RecordDelivery(event, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(event, outcome).Inc()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(route string) {
	if m == nil || m.rateLimitHits == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(route).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Reconcile Metrics

// ReconcileStarted increments the in-flight gauge.
func (m *Metrics) ReconcileStarted() {
	if m == nil || m.activeReconciles == nil {
		return
	}
	m.activeReconciles.Inc()
}

// RecordReconcile records a finished reconciliation with its run status and duration.
func (m *Metrics) RecordReconcile(event, status string, duration time.Duration) {
	if m == nil || m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(event, status).Inc()
	m.reconcileDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ReconcileFinished decrements the in-flight gauge.
func (m *Metrics) ReconcileFinished() {
	if m == nil || m.activeReconciles == nil {
		return
	}
	m.activeReconciles.Dec()
}

// Action Metrics

// RecordAction records the execution of a plan action.
func (m *Metrics) RecordAction(operation, status string, duration time.Duration) {
	if m == nil || m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(operation, status).Inc()
	m.actionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Control Plane Metrics

// RecordAPICall records a control plane API call with its HTTP status.
func (m *Metrics) RecordAPICall(method string, status int, duration time.Duration) {
	if m == nil || m.apiCalls == nil {
		return
	}
	m.apiCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Config Metrics

// RecordConfigReload records a server defaults reload attempt.
func (m *Metrics) RecordConfigReload(ok bool) {
	if m == nil || m.configReloads == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts a dedicated HTTP server to expose metrics when
// a listen address is configured. It returns the server so the caller can
// shut it down, or nil when no dedicated server is needed.
func (m *Metrics) StartMetricsServer() *http.Server {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server error")
		}
	}()

	return server
}
