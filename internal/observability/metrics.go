package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the console. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sessionsExpired prometheus.Counter
	forcedLogouts   *prometheus.CounterVec
	failOpenChecks  prometheus.Counter
	fetchErrors     prometheus.Counter
	activeContexts  prometheus.Gauge
}

// NewMetrics builds the registry and the console metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerdesk_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerdesk_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdesk_session_expired_total",
		Help: "Sessions ended by the inactivity timer.",
	})
	forced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerdesk_session_forced_logout_total",
		Help: "Forced logouts by notice code.",
	}, []string{"reason"})
	failOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdesk_permission_fail_open_total",
		Help: "Permission checks granted because no records were loaded.",
	})
	fetchErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdesk_permission_fetch_errors_total",
		Help: "Failed permission list fetches.",
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerdesk_console_contexts",
		Help: "Console contexts currently open.",
	})
	registry.MustRegister(requests, duration, expired, forced, failOpen, fetchErrors, active)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		sessionsExpired: expired,
		forcedLogouts:   forced,
		failOpenChecks:  failOpen,
		fetchErrors:     fetchErrors,
		activeContexts:  active,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// SessionExpired counts an inactivity expiry.
func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

// ForcedLogout counts a forced logout with its notice code.
func (m *Metrics) ForcedLogout(reason string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(reason).Inc()
}

// PermissionFailOpen counts a check answered by the fail-open rule.
func (m *Metrics) PermissionFailOpen() {
	if m == nil {
		return
	}
	m.failOpenChecks.Inc()
}

// PermissionFetchFailed counts a failed permission fetch.
func (m *Metrics) PermissionFetchFailed() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}

// ContextOpened tracks a new console context.
func (m *Metrics) ContextOpened() {
	if m == nil {
		return
	}
	m.activeContexts.Inc()
}

// ContextClosed tracks a closed console context.
func (m *Metrics) ContextClosed() {
	if m == nil {
		return
	}
	m.activeContexts.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
