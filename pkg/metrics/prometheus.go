// Package metrics provides Prometheus metrics for the talentmatch service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultRefreshInterval = 10 * time.Second

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Ingest
	eventsReceived *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec

	// Correlation
	correlationTransitions *prometheus.CounterVec
	correlationsPending    prometheus.Gauge
	jobsTracked            prometheus.Gauge

	// Scoring
	scoringLatency  prometheus.Histogram
	scoringErrors   prometheus.Counter
	scoringRetries  prometheus.Counter
	degradedResults prometheus.Counter
	overallScores   prometheus.Histogram

	// Publishing
	published       *prometheus.CounterVec
	failedByCause   *prometheus.CounterVec
	publishErrors   prometheus.Counter
	publishSkipped  prometheus.Counter
	resultsStored   prometheus.Gauge
	storeLatency    *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	dedupeEvictions prometheus.Counter

	// Similarity provider
	similarityRequests *prometheus.CounterVec
	similarityLatency  prometheus.Histogram
	breakerState       prometheus.Gauge

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec
	errorLatency      *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry served on /healthz

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "talentmatch",
		subsystem:        "matcher",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.eventsReceived = m.counterVec("events_received_total", "Upstream events accepted for correlation, by event type", "type")
	m.eventsRejected = m.counterVec("events_rejected_total", "Upstream events rejected at the boundary, by event type and reason", "type", "reason")

	m.correlationTransitions = m.counterVec("correlation_transitions_total", "Correlation state transitions", "from", "to")
	m.correlationsPending = m.gauge("correlations_pending", "Correlation keys not yet in a terminal state")
	m.jobsTracked = m.gauge("jobs_tracked", "Job requirement profiles held in the job registry")

	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "End-to-end scoring latency of one pair", m.histogramBuckets)
	m.scoringErrors = m.counter("scoring_errors_total", "Scoring runs that returned an error")
	m.scoringRetries = m.counter("scoring_retries_total", "Scoring retries scheduled with backoff")
	m.degradedResults = m.counter("degraded_results_total", "Results computed with at least one degraded component")
	m.overallScores = m.histogram("overall_score", "Distribution of published overall scores", prometheus.LinearBuckets(0, 10, 11))

	m.published = m.counterVec("published_total", "Events published to the bus, by event type", "type")
	m.failedByCause = m.counterVec("match_failed_total", "match.failed events, by cause", "cause")
	m.publishErrors = m.counter("publish_errors_total", "Publish attempts that failed")
	m.publishSkipped = m.counter("publish_skipped_total", "Publishes suppressed because the result was unchanged")
	m.resultsStored = m.gauge("results_stored", "Match results held by the result store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency", "store", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation errors", "store", "op")
	m.dedupeEvictions = m.counter("dedupe_evictions_total", "Idempotency keys evicted from the publish guard")

	m.similarityRequests = m.counterVec("similarity_requests_total", "Similarity provider calls, by outcome", "outcome")
	m.similarityLatency = m.histogram("similarity_latency_milliseconds", "Similarity provider latency", m.histogramBuckets)
	m.breakerState = m.gauge("similarity_breaker_state", "Similarity circuit breaker state (0 closed, 1 half-open, 2 open)")

	m.queueSize = m.gauge("queue_size", "Tasks waiting across shard queues")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of a shard queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Last observed shard queue utilization (0-1)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Tasks enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Tasks dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Tasks rejected by a full or closed queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Shard workers running")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Tasks handled per second across workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Task handling latency", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Tasks whose handler returned an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorsByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ingest.

func RecordEventReceived(eventType string) {
	globalManager.eventsReceived.WithLabelValues(eventType).Inc()
}

func RecordEventRejected(eventType, reason string) {
	globalManager.eventsRejected.WithLabelValues(eventType, reason).Inc()
}

// Correlation.

// RecordTransition counts a state change of one correlation key.
func RecordTransition(from, to string) {
	globalManager.correlationTransitions.WithLabelValues(from, to).Inc()
}

func UpdateCorrelationsPending(n int) { globalManager.correlationsPending.Set(float64(n)) }
func UpdateJobsTracked(n int)         { globalManager.jobsTracked.Set(float64(n)) }

// Scoring.

func RecordScoringLatency(latencyMs float64) { globalManager.scoringLatency.Observe(latencyMs) }
func RecordScoringError()                    { globalManager.scoringErrors.Inc() }
func RecordScoringRetry()                    { globalManager.scoringRetries.Inc() }
func RecordDegradedResult()                  { globalManager.degradedResults.Inc() }
func RecordOverallScore(score int)           { globalManager.overallScores.Observe(float64(score)) }

// Publishing and storage.

func RecordPublished(eventType string) { globalManager.published.WithLabelValues(eventType).Inc() }
func RecordMatchFailed(cause string)   { globalManager.failedByCause.WithLabelValues(cause).Inc() }
func RecordPublishError()              { globalManager.publishErrors.Inc() }
func RecordPublishSkipped()            { globalManager.publishSkipped.Inc() }
func UpdateResultsStored(n int)        { globalManager.resultsStored.Set(float64(n)) }
func RecordDedupeEviction()            { globalManager.dedupeEvictions.Inc() }

// RecordStoreLatency records the latency of one store operation.
func RecordStoreLatency(store, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(store, op string) {
	globalManager.storeErrors.WithLabelValues(store, op).Inc()
}

// Similarity provider.

// RecordSimilarityRequest counts a provider call by outcome: ok, error, timeout, cached, rejected.
func RecordSimilarityRequest(outcome string) {
	globalManager.similarityRequests.WithLabelValues(outcome).Inc()
}

func RecordSimilarityLatency(latencyMs float64) { globalManager.similarityLatency.Observe(latencyMs) }
func UpdateBreakerState(state int)              { globalManager.breakerState.Set(float64(state)) }

// Queue.

func UpdateQueueSize(size int)                   { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)           { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }
func RecordQueueEnqueue()                        { globalManager.queueEnqueued.Inc() }
func RecordQueueDequeue()                        { globalManager.queueDequeued.Inc() }
func RecordQueueEnqueueError()                   { globalManager.queueEnqueueErrors.Inc() }

func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Workers.

func UpdateWorkerCount(count int)                { globalManager.workerCount.Set(float64(count)) }
func UpdateWorkerMessagesPerSecond(rate float64) { globalManager.workerMessagesPerSecond.Set(rate) }
func RecordWorkerProcessingLatency(ms float64)   { globalManager.workerProcessingLatency.Observe(ms) }
func RecordWorkerError()                         { globalManager.workerErrors.Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

func UpdateSystemMemoryUsage(bytes uint64)  { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int)  { globalManager.systemGoroutineCount.Set(float64(count)) }
func RecordSystemGCPauseTime(pause float64) { globalManager.systemGCPauseTime.Observe(pause) }

// GetRegistry returns the registry every collector is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval reports how often gauges should be refreshed by pollers.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}
