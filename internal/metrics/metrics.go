// Package metrics provides Prometheus metrics for the wcsync engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wcsync_cache_entries",
			Help: "Number of remote status snapshots held in the cache",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcsync_cache_lookups_total",
			Help: "Total cache lookups by result",
		},
		[]string{"result"},
	)

	cacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wcsync_cache_invalidated_entries_total",
			Help: "Total cache entries removed by invalidation",
		},
	)

	// Fetch metrics
	fetchBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcsync_fetch_batches_total",
			Help: "Total remote status fetch batches",
		},
		[]string{"status"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wcsync_fetch_duration_seconds",
			Help:    "Remote status fetch batch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Refresh metrics
	refreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wcsync_refresh_duration_seconds",
			Help:    "Refresh call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	syncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcsync_sync_records_total",
			Help: "Total sync records produced by classification",
		},
		[]string{"kind"},
	)

	pendingDeletions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wcsync_pending_deletions",
			Help: "Number of resources awaiting confirmation of an outgoing deletion",
		},
	)

	// Notification metrics
	notificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wcsync_notifications_total",
			Help: "Total change notifications published",
		},
	)

	notificationsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wcsync_notifications_dropped_total",
			Help: "Total change notifications dropped for slow subscribers",
		},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wcsync_subscribers_active",
			Help: "Number of active change notification subscribers",
		},
	)

	// Change set metrics
	changeSetsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wcsync_change_sets_active",
			Help: "Number of incoming change sets held by the collector",
		},
	)

	// Webhook metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddCacheEntries adjusts the cache entry gauge by delta.
func AddCacheEntries(delta int) {
	cacheEntries.Add(float64(delta))
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordInvalidation records entries removed by an invalidation.
func RecordInvalidation(removed int) {
	cacheInvalidationsTotal.Add(float64(removed))
}

// RecordFetch records one remote status fetch batch.
func RecordFetch(duration time.Duration, success bool) {
	fetchDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	fetchBatchesTotal.WithLabelValues(status).Inc()
}

// RecordRefresh records the duration of a refresh call.
func RecordRefresh(deep bool, duration time.Duration) {
	mode := "cached"
	if deep {
		mode = "deep"
	}
	refreshDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSyncRecord records one produced sync record of the given kind.
func RecordSyncRecord(kind string) {
	syncRecordsTotal.WithLabelValues(kind).Inc()
}

// SetPendingDeletions sets the pending deletion gauge.
func SetPendingDeletions(count int) {
	pendingDeletions.Set(float64(count))
}

// RecordNotification records a published change notification.
func RecordNotification() {
	notificationsTotal.Inc()
}

// RecordNotificationDropped records a notification dropped for a slow subscriber.
func RecordNotificationDropped() {
	notificationsDroppedTotal.Inc()
}

// SetSubscribersActive sets the number of active subscribers.
func SetSubscribersActive(count int) {
	subscribersActive.Set(float64(count))
}

// SetChangeSetsActive sets the number of change sets held by the collector.
func SetChangeSetsActive(count int) {
	changeSetsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
	})
}
