package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus self-metrics of the collector
var (
	// Admin HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eco_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// Metrics backend query metrics
	backendQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_backend_queries_total",
			Help: "Total number of instant queries sent to the metrics backend",
		},
		[]string{"outcome"},
	)

	backendQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eco_backend_query_duration_seconds",
			Help:    "Metrics backend query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Sampling metrics
	substitutedSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_substituted_samples_total",
			Help: "Total number of bucket samples replaced or skipped after a backend error",
		},
		[]string{"metric_type", "policy"},
	)

	// Collection run metrics
	collectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_collection_runs_total",
			Help: "Total number of collection runs",
		},
		[]string{"trigger", "status"},
	)

	collectionRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eco_collection_run_duration_seconds",
			Help:    "Collection run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"trigger"},
	)

	hostCollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_host_collections_total",
			Help: "Total number of per-host metric collections",
		},
		[]string{"metric_type", "status"},
	)

	lastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eco_last_collection_run_timestamp_seconds",
			Help: "Unix time the last collection run finished",
		},
	)

	// Entity graph metrics
	upsertConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_upsert_conflicts_total",
			Help: "Total number of optimistic version conflicts retried by the upserter",
		},
		[]string{"collection"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_notifications_total",
			Help: "Total number of series notifications published",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordBackendQuery records one metrics backend query with its outcome
// ("ok", "unreachable", "http_status", "no_data")
func RecordBackendQuery(outcome string, duration time.Duration) {
	labels := prometheus.Labels{"outcome": outcome}

	backendQueriesTotal.With(labels).Inc()
	backendQueryDuration.With(labels).Observe(duration.Seconds())
}

// RecordSubstitutedSample records a bucket affected by a backend error
func RecordSubstitutedSample(metricType, policy string) {
	substitutedSamplesTotal.With(prometheus.Labels{
		"metric_type": metricType,
		"policy":      policy,
	}).Inc()
}

// RecordCollectionRun records a finished collection run
func RecordCollectionRun(trigger, status string, duration time.Duration) {
	collectionRunsTotal.With(prometheus.Labels{
		"trigger": trigger,
		"status":  status,
	}).Inc()
	collectionRunDuration.With(prometheus.Labels{"trigger": trigger}).Observe(duration.Seconds())
	lastRunTimestamp.SetToCurrentTime()
}

// RecordHostCollection records the outcome of one host and metric type
func RecordHostCollection(metricType string, hasError bool) {
	status := "success"
	if hasError {
		status = "error"
	}
	hostCollectionsTotal.With(prometheus.Labels{
		"metric_type": metricType,
		"status":      status,
	}).Inc()
}

// RecordUpsertConflict records a version conflict on collection
func RecordUpsertConflict(collection string) {
	upsertConflictsTotal.With(prometheus.Labels{"collection": collection}).Inc()
}

// RecordNotification records a published (or failed) series notification
func RecordNotification(hasError bool) {
	status := "success"
	if hasError {
		status = "error"
	}
	notificationsTotal.With(prometheus.Labels{"status": status}).Inc()
}
