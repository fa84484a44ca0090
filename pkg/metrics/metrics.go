package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popshop_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ResponseCacheResults counts response cache lookups by result (hit|stale|miss|bypass).
	ResponseCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_response_cache_results_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// ResponseCacheErrors counts swallowed cache store failures by operation.
	ResponseCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_response_cache_errors_total",
			Help: "Response cache store failures",
		},
		[]string{"operation"},
	)

	// CacheInvalidations counts deleted cache keys by kind (key|prefix).
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_cache_invalidations_total",
			Help: "Cache keys removed by invalidation",
		},
		[]string{"kind"},
	)

	// RateLimitRejections counts requests rejected per rate limit policy.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"policy"},
	)

	// InputRejections counts requests rejected by the input guard by source (query|body|header).
	InputRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_input_rejections_total",
			Help: "Requests rejected by the input guard",
		},
		[]string{"source"},
	)

	// SlowRequests counts requests exceeding the slow request threshold.
	SlowRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_slow_requests_total",
			Help: "Requests slower than the configured threshold",
		},
		[]string{"method", "path"},
	)

	// WebhookEvents counts received webhooks by topic and result (processed|failed).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_webhook_events_total",
			Help: "Webhook events received",
		},
		[]string{"topic", "result"},
	)

	// ProductsSynced counts products upserted from the Admin API.
	ProductsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_products_synced_total",
			Help: "Products synchronised from Shopify",
		},
		[]string{"result"},
	)

	// InstalledShops tracks currently installed shops.
	InstalledShops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "popshop_installed_shops",
			Help: "Number of shops with the app installed",
		},
	)

	// HealthStatus reports the last probe outcome per component (1 up, 0.5 degraded, 0 down).
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popshop_health_status",
			Help: "Last health probe result per component",
		},
		[]string{"component"},
	)

	// MaintenanceRuns counts background job executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popshop_maintenance_runs_total",
			Help: "Maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// MaintenanceDuration measures background job run time.
	MaintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popshop_maintenance_duration_seconds",
			Help:    "Maintenance job duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)

	// MaintenanceLastSuccess is the unix time of the last successful run per job.
	MaintenanceLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popshop_maintenance_last_success_timestamp",
			Help: "Timestamp of the last successful maintenance run (seconds since epoch)",
		},
		[]string{"job"},
	)
)
