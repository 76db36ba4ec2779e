package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains the Prometheus metrics of the frame pipeline and
// the marker lifecycle tracker. It implements Recorder.
type PipelineMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec

	markerEventsTotal *prometheus.CounterVec
	activeMarkers     prometheus.Gauge
	stage             prometheus.Gauge
	dropRatio         prometheus.Gauge
	running           prometheus.Gauge
}

// NewPipelineMetrics creates pipeline metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_pipeline_operations_total",
			Help: "Pipeline operations by outcome",
		},
		[]string{"operation", "status"}, // operation: capture, grayscale, detect, reconcile, cycle
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markertrack_pipeline_operation_duration_seconds",
			Help:    "Time spent per pipeline operation",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_pipeline_errors_total",
			Help: "Pipeline errors by operation and category",
		},
		[]string{"operation", "error_type"},
	)

	m.markerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markertrack_marker_events_total",
			Help: "Per-marker lifecycle transitions",
		},
		[]string{"kind"}, // kind: detected, lost
	)

	m.activeMarkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markertrack_active_markers",
		Help: "Number of registered markers currently in view",
	})

	m.stage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markertrack_pipeline_stage",
		Help: "Current stage (0 idle, 1 captured, 2 grayscaled)",
	})

	m.dropRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markertrack_pipeline_drop_ratio",
		Help: "Share of submitted frames dropped during the last health interval",
	})

	m.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markertrack_pipeline_running",
		Help: "1 while a pipeline is running",
	})
}

// RecordOperation implements Recorder.
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordMarkerEvents adds n lifecycle transitions of kind.
func (m *PipelineMetrics) RecordMarkerEvents(kind string, n int) {
	if n > 0 {
		m.markerEventsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// SetActiveMarkers sets the active marker gauge.
func (m *PipelineMetrics) SetActiveMarkers(n int) {
	m.activeMarkers.Set(float64(n))
}

// SetStage sets the stage gauge.
func (m *PipelineMetrics) SetStage(stage int32) {
	m.stage.Set(float64(stage))
}

// SetDropRatio sets the drop ratio gauge, 0..1.
func (m *PipelineMetrics) SetDropRatio(ratio float64) {
	m.dropRatio.Set(ratio)
}

// SetRunning sets the running gauge.
func (m *PipelineMetrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.markerEventsTotal.Describe(ch)
	ch <- m.activeMarkers.Desc()
	ch <- m.stage.Desc()
	ch <- m.dropRatio.Desc()
	ch <- m.running.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.markerEventsTotal.Collect(ch)
	ch <- m.activeMarkers
	ch <- m.stage
	ch <- m.dropRatio
	ch <- m.running
}
