package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently;
// every call owns a private registry.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			assert.NoError(t, err)
			if m == nil {
				return
			}
			assert.NotNil(t, m.Registry())
			assert.NotNil(t, m.Pipeline)
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.Datastore)
			assert.NotNil(t, m.HTTP)
			assert.NotNil(t, m.System)
		})
	}
	wg.Wait()
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Pipeline.SetActiveMarkers(2)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "markertrack_active_markers 2")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestErrorHookCountsCategories(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	errors.AddErrorHook(m.ErrorHook())
	t.Cleanup(errors.ClearErrorHooks)

	_ = errors.Newf("engine exploded").
		Component("pipeline").
		Category(errors.CategoryDetection).
		Build()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Contains(t, rec.Body.String(),
		`markertrack_pipeline_errors_total{error_type="marker-detection",operation="pipeline"} 1`)
}

func TestNewEndpointRequiresTelemetry(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(&conf.Settings{}, m)
	require.Error(t, err)
}

func TestEndpointRunAndShutdown(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	// reserve a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true
	settings.Telemetry.Listen = addr

	ep, err := NewEndpoint(settings, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- ep.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("endpoint did not shut down")
	}
}
