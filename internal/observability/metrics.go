package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reconcileRuns   *prometheus.CounterVec
	reconcileRows   *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and membership metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iam_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_reconcile_total",
		Help: "Membership reconciliations partitioned by operation and outcome.",
	}, []string{"op", "result"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_reconcile_rows_total",
		Help: "Membership rows written by reconciliation.",
	}, []string{"op", "table", "action"})
	registry.MustRegister(requests, duration, runs, rows)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		reconcileRuns:   runs,
		reconcileRows:   rows,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
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

// ObserveReconcile implements rbac.Recorder. It is called before the surrounding
// transaction commits, so counts include writes that were later rolled back.
func (m *Metrics) ObserveReconcile(op string, diff rbac.Diff) {
	if m == nil {
		return
	}
	result := "changed"
	if diff.Empty() {
		result = "noop"
	}
	m.reconcileRuns.WithLabelValues(op, result).Inc()
	m.addRows(op, "user_roles", "insert", len(diff.RolesInserted))
	m.addRows(op, "user_roles", "delete", len(diff.RolesDeleted))
	m.addRows(op, "user_permissions", "insert", len(diff.PermissionsInserted))
	m.addRows(op, "user_permissions", "delete", len(diff.PermissionsDeleted))
}

func (m *Metrics) addRows(op, table, action string, n int) {
	if n == 0 {
		return
	}
	m.reconcileRows.WithLabelValues(op, table, action).Add(float64(n))
}

// Registerer exposes the registry so other packages can add collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
