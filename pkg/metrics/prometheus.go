// Package metrics provides Prometheus metrics for the segmentation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Training
	fitRuns          *prometheus.CounterVec
	fitDuration      prometheus.Histogram
	trainingRows     *prometheus.CounterVec
	kmeansIterations prometheus.Gauge
	kmeansInertia    prometheus.Gauge

	// Inference
	rowsAssigned      prometheus.Counter
	rowFailures       *prometheus.CounterVec
	unknownCategories *prometheus.CounterVec
	assignLatency     prometheus.Histogram
	segmentAssigned   *prometheus.CounterVec

	// Batch queue and workers
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueRejected prometheus.Counter
	workerCount   prometheus.Gauge
	workerBatches prometheus.Counter
	workerLatency prometheus.Histogram

	// Artifacts
	artifactOps   *prometheus.CounterVec
	artifactBytes prometheus.Gauge
	modelVersion  prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "custseg",
		subsystem:        "segmentation",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
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

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.fitRuns = auto.NewCounterVec(m.counterOpts("fit_runs_total",
		"Training runs by outcome"), []string{"outcome"})
	m.fitDuration = auto.NewHistogram(m.histogramOpts("fit_duration_seconds",
		"Wall time of a full fit (featurize, encode, scale, cluster)"))
	m.trainingRows = auto.NewCounterVec(m.counterOpts("training_rows_total",
		"Training rows by outcome (kept, missing_field, malformed_input, age_outlier, income_outlier)"), []string{"outcome"})
	m.kmeansIterations = auto.NewGauge(m.gaugeOpts("kmeans_iterations",
		"Iterations used by the winning k-means run of the last fit"))
	m.kmeansInertia = auto.NewGauge(m.gaugeOpts("kmeans_inertia",
		"Within-cluster sum of squares of the last fit"))

	m.rowsAssigned = auto.NewCounter(m.counterOpts("rows_assigned_total",
		"Rows that received a segment label"))
	m.rowFailures = auto.NewCounterVec(m.counterOpts("row_failures_total",
		"Inference rows that failed, by error kind"), []string{"kind"})
	m.unknownCategories = auto.NewCounterVec(m.counterOpts("unknown_categories_total",
		"Categorical values unseen at fit time, mapped to the reserved ordinal"), []string{"column"})
	m.assignLatency = auto.NewHistogram(m.histogramOpts("assign_duration_seconds",
		"Latency of one assignment batch"))
	m.segmentAssigned = auto.NewCounterVec(m.counterOpts("segment_assigned_total",
		"Assigned rows per segment label"), []string{"segment"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Batches waiting in the assignment queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Capacity of the assignment queue"))
	m.queueRejected = auto.NewCounter(m.counterOpts("queue_rejected_total",
		"Batches rejected because the queue was full or closed"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Assignment workers running"))
	m.workerBatches = auto.NewCounter(m.counterOpts("worker_batches_total", "Batches processed by workers"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_batch_seconds",
		"Time from dequeue to result for one batch"))

	m.artifactOps = auto.NewCounterVec(m.counterOpts("artifact_operations_total",
		"Artifact store operations by backend, operation and outcome"), []string{"backend", "op", "outcome"})
	m.artifactBytes = auto.NewGauge(m.gaugeOpts("artifact_size_bytes", "Size of the last saved artifact"))
	m.modelVersion = auto.NewGauge(m.gaugeOpts("model_version", "Version of the pipeline currently served"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds"), []string{"endpoint", "method", "status"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and type"), []string{"component", "type"})
}

// Training metrics.

// RecordFitRun counts a training run with outcome "success" or "failure".
func RecordFitRun(outcome string) {
	globalManager.fitRuns.WithLabelValues(outcome).Inc()
}

// RecordFitDuration records the wall time of a fit in seconds.
func RecordFitDuration(seconds float64) {
	globalManager.fitDuration.Observe(seconds)
}

// RecordTrainingRows adds n rows to the given outcome bucket.
func RecordTrainingRows(outcome string, n int) {
	if n <= 0 {
		return
	}
	globalManager.trainingRows.WithLabelValues(outcome).Add(float64(n))
}

// UpdateKMeansResult publishes iterations and inertia of the last fit.
func UpdateKMeansResult(iterations int, inertia float64) {
	globalManager.kmeansIterations.Set(float64(iterations))
	globalManager.kmeansInertia.Set(inertia)
}

// Inference metrics.

// RecordRowsAssigned counts labelled rows.
func RecordRowsAssigned(n int) {
	globalManager.rowsAssigned.Add(float64(n))
}

// RecordSegment counts one row assigned to segment label.
func RecordSegment(label string) {
	globalManager.segmentAssigned.WithLabelValues(label).Inc()
}

// RecordRowFailure counts a failed inference row by kind.
func RecordRowFailure(kind string) {
	globalManager.rowFailures.WithLabelValues(kind).Inc()
}

// RecordUnknownCategory counts a value mapped to the reserved ordinal.
func RecordUnknownCategory(column string) {
	globalManager.unknownCategories.WithLabelValues(column).Inc()
}

// RecordAssignLatency records the latency of one assignment batch in seconds.
func RecordAssignLatency(seconds float64) {
	globalManager.assignLatency.Observe(seconds)
}

// Queue and worker metrics.

// UpdateQueueSize sets the number of queued batches.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts a batch that could not be enqueued.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerBatch records one processed batch and its latency in seconds.
func RecordWorkerBatch(seconds float64) {
	globalManager.workerBatches.Inc()
	globalManager.workerLatency.Observe(seconds)
}

// Artifact metrics.

// RecordArtifactOp counts a store operation.
func RecordArtifactOp(backend, op, outcome string) {
	globalManager.artifactOps.WithLabelValues(backend, op, outcome).Inc()
}

// UpdateArtifactSize sets the size of the last saved artifact.
func UpdateArtifactSize(bytes int64) {
	globalManager.artifactBytes.Set(float64(bytes))
}

// UpdateModelVersion sets the served model version.
func UpdateModelVersion(version int) {
	globalManager.modelVersion.Set(float64(version))
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
