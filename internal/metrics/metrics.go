package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csrv_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Database Metrics
	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csrv_database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DatabaseConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csrv_database_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Lock Metrics
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csrv_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a named lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"backend"},
	)

	LockTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out or were cancelled",
		},
		[]string{"backend"},
	)

	// Version Metrics (no per-server labels to keep cardinality bounded)
	VersionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_versions_created_total",
			Help: "Total number of custom server versions created",
		},
		[]string{"source_type"},
	)

	VersionPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrv_version_promotions_total",
			Help: "Total number of versions promoted to current",
		},
	)

	VersionImportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrv_version_imports_total",
			Help: "Total number of versions imported across environments",
		},
	)

	SchemasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_schemas_total",
			Help: "Config schema lookups by result (created or reused)",
		},
		[]string{"result"},
	)

	EnvironmentsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrv_environments_created_total",
			Help: "Total number of environments materialized",
		},
	)

	// Error Metrics
	ErrorLogsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrv_error_logs_total",
			Help: "Total number of error-level log entries",
		},
		[]string{"level"},
	)
)

// RecordHTTPRequest records an HTTP request with duration
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(operation, status string, duration time.Duration) {
	DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLockWait records how long a lock acquisition waited
func RecordLockWait(backend string, duration time.Duration) {
	LockWaitDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordLockTimeout records a lock acquisition that gave up
func RecordLockTimeout(backend string) {
	LockTimeoutsTotal.WithLabelValues(backend).Inc()
}

// RecordVersionCreated records a new version
func RecordVersionCreated(sourceType string) {
	VersionsCreatedTotal.WithLabelValues(sourceType).Inc()
}

// RecordSchema records whether a schema lookup created a new record
func RecordSchema(created bool) {
	if created {
		SchemasTotal.WithLabelValues("created").Inc()
		return
	}
	SchemasTotal.WithLabelValues("reused").Inc()
}

// RecordErrorLog records an error-level log entry
func RecordErrorLog(level string) {
	ErrorLogsTotal.WithLabelValues(level).Inc()
}
