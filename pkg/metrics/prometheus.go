// Package metrics provides Prometheus metrics for the standings service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the standings service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	passBuckets    []float64
	constLabels    prometheus.Labels
	registry       prometheus.Registerer

	// Pass Metrics - one reconciliation pass end to end
	passesTotal      *prometheus.CounterVec
	passDuration     prometheus.Histogram
	lastPassUnix     prometheus.Gauge
	lastPassEntities *prometheus.GaugeVec

	// Source Metrics - external ranking API
	sourcePages          prometheus.Counter
	sourceEntities       prometheus.Counter
	sourceReauths        prometheus.Counter
	sourceErrors         *prometheus.CounterVec
	sourceLatency        *prometheus.HistogramVec
	sourceBreakerState   prometheus.Gauge
	skippedEntitiesTotal prometheus.Counter

	// Mutation Metrics - engine operations by kind and outcome
	mutations        *prometheus.CounterVec
	regionIncrements prometheus.Counter
	counterFailures  prometheus.Counter

	// Repository Metrics
	repositoryRecordsTotal  prometheus.Gauge
	repositoryRegions       prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue Metrics - pending triggers
	queueCapacity          prometheus.Gauge
	queueSize              prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Trigger Metrics - POST /reconcile outcomes
	triggerRequests *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Pass duration buckets in milliseconds, up to five minutes.
var defaultPassBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000} //nolint:gochecknoglobals // read-only defaults

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "standings",
		subsystem:      "reconcile",
		latencyBuckets: prometheus.DefBuckets,
		passBuckets:    defaultPassBuckets,
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.latencyBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	// Pass Metrics
	m.passesTotal = auto.NewCounterVec(m.counterOpts("passes_total",
		"Total reconciliation passes by outcome (success, partial, failed)"), []string{"outcome"})
	m.passDuration = auto.NewHistogram(m.histogramOpts("pass_duration_milliseconds",
		"Duration of a full reconciliation pass in milliseconds", m.passBuckets))
	m.lastPassUnix = auto.NewGauge(m.gaugeOpts("last_pass_unix",
		"Unix timestamp of the last finished pass"))
	m.lastPassEntities = auto.NewGaugeVec(m.gaugeOpts("last_pass_entities",
		"Entities per activity class in the last planned pass"), []string{"class"})

	// Source Metrics
	m.sourcePages = auto.NewCounter(m.counterOpts("source_pages_total",
		"Total pages fetched from the ranking source"))
	m.sourceEntities = auto.NewCounter(m.counterOpts("source_entities_total",
		"Total entities fetched from the ranking source"))
	m.sourceReauths = auto.NewCounter(m.counterOpts("source_reauthentications_total",
		"Total re-authentications after token expiry"))
	m.sourceErrors = auto.NewCounterVec(m.counterOpts("source_errors_total",
		"Total failed ranking source calls by operation"), []string{"op"})
	m.sourceLatency = auto.NewHistogramVec(m.histogramOpts("source_request_latency_milliseconds",
		"Ranking source request latency in milliseconds", nil), []string{"op"})
	m.sourceBreakerState = auto.NewGauge(m.gaugeOpts("source_breaker_state",
		"Ranking source circuit breaker state (0 closed, 1 half-open, 2 open)"))
	m.skippedEntitiesTotal = auto.NewCounter(m.counterOpts("skipped_entities_total",
		"Total malformed snapshot entries skipped"))

	// Mutation Metrics
	m.mutations = auto.NewCounterVec(m.counterOpts("mutations_total",
		"Total store mutations by kind and outcome"), []string{"kind", "outcome"})
	m.regionIncrements = auto.NewCounter(m.counterOpts("region_inactive_increments_total",
		"Total inactive transitions added to region counters"))
	m.counterFailures = auto.NewCounter(m.counterOpts("region_counter_failures_total",
		"Total region counter increments that failed"))

	// Repository Metrics
	m.repositoryRecordsTotal = auto.NewGauge(m.gaugeOpts("repository_records_total",
		"Total number of persisted score records"))
	m.repositoryRegions = auto.NewGauge(m.gaugeOpts("repository_regions_total",
		"Total number of known regions"))
	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds",
		"Repository update operation latency in milliseconds", nil))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds",
		"Repository query operation latency in milliseconds", nil))

	// Queue Metrics
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Maximum number of pending triggers"))
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Current number of pending triggers"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total",
		"Total number of triggers enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total",
		"Total number of triggers dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total",
		"Total number of refused triggers"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("queue_processing_latency_milliseconds",
		"Queue enqueue latency in milliseconds", nil))

	// Worker Metrics
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count",
		"Number of running pass workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Triggered pass latency in milliseconds", m.passBuckets))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total",
		"Total number of failed triggered passes"))

	// HTTP Performance Metrics
	m.triggerRequests = auto.NewCounterVec(m.counterOpts("trigger_requests_total",
		"Pass trigger requests by outcome (accepted, pending, unavailable, failed)"), []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", nil), []string{"endpoint", "method", "status_code"})

	// Enhanced Error Metrics
	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total",
		"Total number of errors by type"), []string{"error_type", "class"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds",
		"Latency of operations that resulted in errors", nil), []string{"component", "error_type"})

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Pass Metrics Functions.

// RecordPass records a finished pass with its outcome and duration.
func RecordPass(outcome string, durationMs float64) {
	globalManager.passesTotal.WithLabelValues(outcome).Inc()
	globalManager.passDuration.Observe(durationMs)
}

// UpdateLastPassUnix sets the timestamp of the last finished pass.
func UpdateLastPassUnix(ts int64) {
	globalManager.lastPassUnix.Set(float64(ts))
}

// RecordClassification sets the entity count of one activity class.
func RecordClassification(class string, n int) {
	globalManager.lastPassEntities.WithLabelValues(class).Set(float64(n))
}

// Source Metrics Functions.

// RecordSourcePage counts one fetched page and its entities.
func RecordSourcePage(entities int) {
	globalManager.sourcePages.Inc()
	globalManager.sourceEntities.Add(float64(entities))
}

// RecordSourceReauth counts one re-authentication.
func RecordSourceReauth() {
	globalManager.sourceReauths.Inc()
}

// RecordSourceError counts a failed source call.
func RecordSourceError(op string) {
	globalManager.sourceErrors.WithLabelValues(op).Inc()
}

// RecordSourceRequestLatency records one source call latency.
func RecordSourceRequestLatency(op string, latencyMs float64) {
	globalManager.sourceLatency.WithLabelValues(op).Observe(latencyMs)
}

// SetSourceBreakerState sets the circuit breaker state gauge.
func SetSourceBreakerState(state float64) {
	globalManager.sourceBreakerState.Set(state)
}

// RecordSkippedEntities adds skipped snapshot entries.
func RecordSkippedEntities(n int) {
	if n > 0 {
		globalManager.skippedEntitiesTotal.Add(float64(n))
	}
}

// Mutation Metrics Functions.

// RecordMutation counts one store mutation.
func RecordMutation(kind, outcome string) {
	globalManager.mutations.WithLabelValues(kind, outcome).Inc()
}

// RecordRegionIncrement adds an applied region increment.
func RecordRegionIncrement(amount int64) {
	globalManager.regionIncrements.Add(float64(amount))
}

// RecordCounterFailure counts a failed region increment.
func RecordCounterFailure() {
	globalManager.counterFailures.Inc()
}

// Repository Metrics Functions.

// UpdateRepositoryRecordsTotal sets the number of persisted records.
func UpdateRepositoryRecordsTotal(count int) {
	globalManager.repositoryRecordsTotal.Set(float64(count))
}

// UpdateRegionCount sets the number of known regions.
func UpdateRegionCount(count int) {
	globalManager.repositoryRegions.Set(float64(count))
}

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// HTTP Metrics Functions.

// RecordTriggerRequest counts one pass trigger request by outcome.
func RecordTriggerRequest(outcome string) {
	globalManager.triggerRequests.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error by type and class (client or server).
func RecordErrorByType(errorType, class string) {
	globalManager.errorRateByType.WithLabelValues(errorType, class).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
