// Package metrics provides Prometheus metrics for the cfcache service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the cache service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Cache refresh metrics
	cacheReloads        *prometheus.CounterVec
	cacheReloadDuration *prometheus.HistogramVec
	storeRecords        *prometheus.GaugeVec

	// Remote fetch metrics
	fetchErrors     *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchesInFlight prometheus.Gauge

	// Rating-change metrics
	ratingChangesStored  prometheus.Counter
	ratingFetchConflicts prometheus.Counter

	// Ranklist monitoring metrics
	monitoredContests    prometheus.Gauge
	monitorPolls         *prometheus.CounterVec
	monitorFailStreak    *prometheus.GaugeVec
	ranklistsGenerated   prometheus.Counter
	ranklistMemoHits     prometheus.Counter

	// Event bus metrics
	eventDeliveries    prometheus.Counter
	eventListenerError prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cfcache",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.cacheReloads = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cache_reloads_total",
			Help:      "Total number of cache reloads by cache name and outcome",
		},
		[]string{"cache", "outcome"},
	)

	m.cacheReloadDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cache_reload_duration_milliseconds",
			Help:      "Cache reload duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"cache"},
	)

	m.storeRecords = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_records",
			Help:      "Current number of records per entity store",
		},
		[]string{"store"},
	)

	m.fetchErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "fetch_errors_total",
			Help:      "Total number of remote fetch errors by resource",
		},
		[]string{"resource"},
	)

	m.fetchDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "fetch_duration_milliseconds",
			Help:      "Remote fetch duration in milliseconds by resource",
			Buckets:   m.histogramBuckets,
		},
		[]string{"resource"},
	)

	m.fetchesInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetches_in_flight",
		Help:      "Current number of remote fetches in flight",
	})

	m.ratingChangesStored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rating_changes_stored_total",
		Help:      "Total number of rating change records stored",
	})

	m.ratingFetchConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rating_fetch_conflicts_total",
		Help:      "Total number of rating fetches coalesced into an in-flight fetch",
	})

	m.monitoredContests = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "monitored_contests",
		Help:      "Current number of contests with an active ranklist monitor",
	})

	m.monitorPolls = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "monitor_polls_total",
			Help:      "Total number of ranklist monitor polls by outcome",
		},
		[]string{"outcome"},
	)

	m.monitorFailStreak = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "monitor_consecutive_poll_failures",
			Help:      "Consecutive failed polls for a monitored contest",
		},
		[]string{"contest_id"},
	)

	m.ranklistsGenerated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ranklists_generated_total",
		Help:      "Total number of ranklists assembled from remote standings",
	})

	m.ranklistMemoHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ranklist_memo_hits_total",
		Help:      "Total number of finished-contest ranklist requests served from memo",
	})

	m.eventDeliveries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_deliveries_total",
		Help:      "Total number of events delivered to bus listeners",
	})

	m.eventListenerError = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_listener_errors_total",
		Help:      "Total number of listener errors (including recovered panics)",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)
}

// Package-level helpers backed by the global manager.

// RecordCacheReload increments the reload counter for a cache with the given outcome.
func RecordCacheReload(cache, outcome string) {
	globalManager.cacheReloads.WithLabelValues(cache, outcome).Inc()
}

// RecordCacheReloadDuration records how long a cache reload took.
func RecordCacheReloadDuration(cache string, durationMs float64) {
	globalManager.cacheReloadDuration.WithLabelValues(cache).Observe(durationMs)
}

// UpdateStoreRecords sets the record count gauge for a store.
func UpdateStoreRecords(store string, count int) {
	globalManager.storeRecords.WithLabelValues(store).Set(float64(count))
}

// RecordFetchError increments the fetch error counter for a resource.
func RecordFetchError(resource string) {
	globalManager.fetchErrors.WithLabelValues(resource).Inc()
}

// RecordFetchDuration records a remote fetch duration.
func RecordFetchDuration(resource string, durationMs float64) {
	globalManager.fetchDuration.WithLabelValues(resource).Observe(durationMs)
}

// IncFetchesInFlight increments the in-flight fetch gauge.
func IncFetchesInFlight() { globalManager.fetchesInFlight.Inc() }

// DecFetchesInFlight decrements the in-flight fetch gauge.
func DecFetchesInFlight() { globalManager.fetchesInFlight.Dec() }

// RecordRatingChangesStored adds to the stored rating change counter.
func RecordRatingChangesStored(count int) {
	globalManager.ratingChangesStored.Add(float64(count))
}

// RecordRatingFetchCoalesced counts a rating fetch joined to an in-flight one.
func RecordRatingFetchCoalesced() {
	globalManager.ratingFetchConflicts.Inc()
}

// UpdateMonitoredContests sets the number of active ranklist monitors.
func UpdateMonitoredContests(count int) {
	globalManager.monitoredContests.Set(float64(count))
}

// RecordMonitorPoll counts a monitor poll with the given outcome.
func RecordMonitorPoll(outcome string) {
	globalManager.monitorPolls.WithLabelValues(outcome).Inc()
}

// UpdateMonitorFailStreak sets the consecutive-failure gauge for a contest.
func UpdateMonitorFailStreak(contestID string, streak int) {
	globalManager.monitorFailStreak.WithLabelValues(contestID).Set(float64(streak))
}

// RecordRanklistGenerated counts an assembled ranklist.
func RecordRanklistGenerated() { globalManager.ranklistsGenerated.Inc() }

// RecordRanklistMemoHit counts a memoized finished ranklist hit.
func RecordRanklistMemoHit() { globalManager.ranklistMemoHits.Inc() }

// RecordEventDelivery counts an event delivered to a listener.
func RecordEventDelivery() { globalManager.eventDeliveries.Inc() }

// RecordEventListenerError counts a listener error or recovered panic.
func RecordEventListenerError() { globalManager.eventListenerError.Inc() }

// RecordHTTPRequest increments HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
