package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Portal data-layer metrics for production monitoring
var (
	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"category", "tier"}, // tier: memory/sqlite
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"category", "tier"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_evictions_total",
			Help: "Total number of cache entries removed by expiry sweeps",
		},
		[]string{"tier"},
	)

	CacheBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_backend_errors_total",
			Help: "Total number of cache backend failures degraded to misses",
		},
		[]string{"tier", "op"}, // op: get/set/invalidate
	)

	// Rate limiter metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_ratelimit_decisions_total",
			Help: "Total number of rate limit admission decisions",
		},
		[]string{"resource", "decision"}, // decision: allowed/denied
	)

	RateLimitActiveWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_ratelimit_active_windows",
			Help: "Current number of tracked sliding windows",
		},
	)

	// Provider metrics
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_provider_requests_total",
			Help: "Total number of upstream provider requests",
		},
		[]string{"endpoint", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_provider_request_duration_seconds",
			Help:    "Upstream provider request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"endpoint"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_provider_retries_total",
			Help: "Total number of upstream retry attempts",
		},
		[]string{"endpoint", "error_kind"},
	)

	// Usage ledger metrics
	UsageRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_usage_records_total",
			Help: "Total number of usage ledger entries written",
		},
		[]string{"endpoint", "outcome"}, // outcome: success/failure
	)

	UsageWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_usage_write_failures_total",
			Help: "Total number of usage ledger writes that failed and were dropped",
		},
	)

	// Request metrics at the service boundary
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Total number of data-layer requests by terminal outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success/error kind
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_request_duration_seconds",
			Help:    "End-to-end request duration in seconds, including backoff sleeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
