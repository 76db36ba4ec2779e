package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for sighting persistence and
// the sightings cache.
type DatastoreMetrics struct {
	dbOperationsTotal    *prometheus.CounterVec
	dbOperationDuration  *prometheus.HistogramVec
	dbOperationErrors    *prometheus.CounterVec
	cacheOperationsTotal *prometheus.CounterVec
	cacheSize            prometheus.Gauge
}

// NewDatastoreMetrics creates and registers datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_db_operations_total",
			Help: "Database operations by table and outcome",
		},
		[]string{"operation", "table", "status"},
	)

	m.dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markertrack_db_operation_duration_seconds",
			Help:    "Database operation latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation", "table"},
	)

	m.dbOperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_db_operation_errors_total",
			Help: "Database errors by table and type",
		},
		[]string{"operation", "table", "error_type"},
	)

	m.cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_sightings_cache_operations_total",
			Help: "Sightings cache operations by result",
		},
		[]string{"operation", "result"}, // result: hit, miss, success
	)

	m.cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markertrack_sightings_cache_size",
		Help: "Number of markers held in the sightings cache",
	})
}

// RecordDbOperation records a database operation outcome.
func (m *DatastoreMetrics) RecordDbOperation(operation, table, status string) {
	m.dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordDbOperationDuration records a database operation latency in seconds.
func (m *DatastoreMetrics) RecordDbOperationDuration(operation, table string, duration float64) {
	m.dbOperationDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordDbOperationError records a database error.
func (m *DatastoreMetrics) RecordDbOperationError(operation, table, errorType string) {
	m.dbOperationErrors.WithLabelValues(operation, table, errorType).Inc()
}

// RecordCacheOperation records a sightings cache operation.
func (m *DatastoreMetrics) RecordCacheOperation(operation, result string) {
	m.cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// UpdateCacheSize sets the sightings cache size gauge.
func (m *DatastoreMetrics) UpdateCacheSize(size int) {
	m.cacheSize.Set(float64(size))
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.dbOperationsTotal.Describe(ch)
	m.dbOperationDuration.Describe(ch)
	m.dbOperationErrors.Describe(ch)
	m.cacheOperationsTotal.Describe(ch)
	ch <- m.cacheSize.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.dbOperationsTotal.Collect(ch)
	m.dbOperationDuration.Collect(ch)
	m.dbOperationErrors.Collect(ch)
	m.cacheOperationsTotal.Collect(ch)
	ch <- m.cacheSize
}
