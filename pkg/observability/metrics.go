package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so stores and checkers can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	DBOperationsTotal   *prometheus.CounterVec
	DBOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	RBACMutationsTotal  *prometheus.CounterVec
	MembershipsSwept    prometheus.Counter
	SeedRunsTotal       *prometheus.CounterVec

	// Catalog metrics
	CatalogMutationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopadmin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopadmin_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
		DBOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_db_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"store", "operation", "status"},
		),
		DBOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopadmin_db_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"store", "operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopadmin_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopadmin_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopadmin_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopadmin_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_authz_decisions_total",
				Help: "Permission checks by function, command and outcome",
			},
			[]string{"function", "command", "decision"},
		),
		RBACMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_rbac_mutations_total",
				Help: "Access-control configuration changes by operation",
			},
			[]string{"operation"},
		),
		CatalogMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_catalog_mutations_total",
				Help: "Catalog changes by entity and operation",
			},
			[]string{"entity", "operation"},
		),
		MembershipsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopadmin_memberships_swept_total",
			Help: "Expired role memberships removed by the sweeper",
		}),
		SeedRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopadmin_seed_runs_total",
				Help: "Seed file applications by outcome",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.DBOperationsTotal,
		m.DBOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.AuthzDecisionsTotal,
		m.RBACMutationsTotal,
		m.MembershipsSwept,
		m.SeedRunsTotal,
		m.CatalogMutationsTotal,
	)

	return m
}

// ObserveDB records one store operation
func (m *Metrics) ObserveDB(store, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DBOperationsTotal.WithLabelValues(store, operation, status).Inc()
	m.DBOperationDuration.WithLabelValues(store, operation).Observe(time.Since(start).Seconds())
}

// CacheHit records a hit in the named cache
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// CacheMiss records a miss in the named cache
func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// AuthzDecision records the outcome of a permission check
func (m *Metrics) AuthzDecision(functionID, commandID string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(functionID, commandID, decision).Inc()
}

// RBACMutation records an access-control change
func (m *Metrics) RBACMutation(operation string) {
	if m == nil {
		return
	}
	m.RBACMutationsTotal.WithLabelValues(operation).Inc()
}

// CatalogMutation records a brand, category, product or rating change
func (m *Metrics) CatalogMutation(entity, operation string) {
	if m == nil {
		return
	}
	m.CatalogMutationsTotal.WithLabelValues(entity, operation).Inc()
}

// MembershipsExpired records memberships removed by the sweeper
func (m *Metrics) MembershipsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MembershipsSwept.Add(float64(n))
}

// SeedRun records a seed application
func (m *Metrics) SeedRun(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SeedRunsTotal.WithLabelValues(status).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so ids do not explode label
// cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// It is meant to be installed with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
