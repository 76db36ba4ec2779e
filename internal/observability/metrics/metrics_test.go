package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics_Recorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	var rec Recorder = m
	rec.RecordOperation(OpCapture, StatusAccepted)
	rec.RecordOperation(OpCapture, StatusAccepted)
	rec.RecordOperation(OpCapture, StatusDropped)
	rec.RecordError(OpDetect, "marker-detection")
	rec.RecordDuration(OpDetect, 0.004)

	assert.InDelta(t, 2, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpCapture, StatusAccepted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpCapture, StatusDropped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues(OpDetect, "marker-detection")), 0)

	hist, ok := m.operationDuration.WithLabelValues(OpDetect).(prometheus.Histogram)
	require.True(t, ok)
	var out dto.Metric
	require.NoError(t, hist.Write(&out))
	assert.Equal(t, uint64(1), out.GetHistogram().GetSampleCount())
}

func TestPipelineMetrics_Gauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	m.SetActiveMarkers(3)
	m.SetStage(2)
	m.SetDropRatio(0.25)
	m.SetRunning(true)
	m.RecordMarkerEvents("detected", 2)
	m.RecordMarkerEvents("lost", 0)

	assert.InDelta(t, 3, testutil.ToFloat64(m.activeMarkers), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.stage), 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.dropRatio), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.running), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.markerEventsTotal.WithLabelValues("detected")), 0)

	expected := `
# HELP markertrack_active_markers Number of registered markers currently in view
# TYPE markertrack_active_markers gauge
markertrack_active_markers 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "markertrack_active_markers"))
}

func TestPipelineMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	_, err = NewPipelineMetrics(reg)
	require.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.IncrementMessagesDelivered()
	m.IncrementMessagesThrottled()
	m.ObserveMessageSize(128)
	m.StartPublishTimer().ObserveDuration()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesThrottled), 0)

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestHTTPMetrics_ErrorClasses(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	m.RecordHTTPRequest("GET", "/health", 200, 0.001)
	m.RecordHTTPRequest("GET", "/api/v1/markers/:id", 404, 0.001)
	m.RecordHTTPRequest("GET", "/api/v1/pipeline", 503, 0.001)

	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/health", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestErrors.WithLabelValues("GET", "/api/v1/markers/:id", "client_error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestErrors.WithLabelValues("GET", "/api/v1/pipeline", "server_error")), 0)
}

func TestDatastoreMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewDatastoreMetrics(reg)
	require.NoError(t, err)

	m.RecordDbOperation(OpDbInsert, "sightings", StatusSuccess)
	m.RecordDbOperationError(OpDbInsert, "sightings", "database")
	m.RecordCacheOperation("get", "hit")
	m.UpdateCacheSize(4)

	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpDbInsert, "sightings", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationErrors.WithLabelValues(OpDbInsert, "sightings", "database")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.cacheSize), 0)
}

func TestSystemMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewSystemMetrics(reg)
	require.NoError(t, err)

	dir := t.TempDir()
	m.WatchDisk(dir)
	m.WatchDisk(dir)

	assert.Equal(t, 2, testutil.CollectAndCount(m, "markertrack_host_disk_usage_percent", "markertrack_host_disk_free_bytes"))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "markertrack_host_memory_usage_percent"))

	m.WatchDisk(dir + "/missing")
	_ = testutil.CollectAndCount(m)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.readErrors), float64(1))
}

func TestTestRecorder(t *testing.T) {
	t.Parallel()

	r := NewTestRecorder()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			r.RecordOperation(OpCycle, StatusSuccess)
			r.RecordDuration(OpCycle, 0.01)
			r.RecordError(OpDetect, "timeout")
		})
	}
	wg.Wait()

	assert.Equal(t, 10, r.GetOperationCount(OpCycle, StatusSuccess))
	assert.Len(t, r.GetDurations(OpCycle), 10)
	assert.Equal(t, 10, r.GetErrorCount(OpDetect, "timeout"))
	assert.Equal(t, 10, r.TotalErrors(OpDetect))
	assert.Zero(t, r.GetOperationCount("unknown", StatusSuccess))

	r.Reset()
	assert.Zero(t, r.GetOperationCount(OpCycle, StatusSuccess))
	assert.Nil(t, r.GetDurations(OpCycle))
}
