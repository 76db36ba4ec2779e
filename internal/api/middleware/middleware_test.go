package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markertrack/markertrack/internal/logger"
)

type observation struct {
	method, path string
	status       int
}

type fakeRecorder struct{ seen []observation }

func (f *fakeRecorder) RecordHTTPRequest(method, path string, statusCode int, _ float64) {
	f.seen = append(f.seen, observation{method, path, statusCode})
}

func TestMetricsUsesRouteTemplateAndErrorCode(t *testing.T) {
	rec := &fakeRecorder{}
	e := echo.New()
	e.Use(NewMetrics(rec))
	e.GET("/items/:id", func(c echo.Context) error {
		if c.Param("id") == "0" {
			return echo.NewHTTPError(http.StatusTeapot, "no")
		}
		return c.NoContent(http.StatusNoContent)
	})

	for _, path := range []string{"/items/1", "/items/0", "/nowhere"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	require.Len(t, rec.seen, 3)
	assert.Equal(t, observation{http.MethodGet, "/items/:id", http.StatusNoContent}, rec.seen[0])
	assert.Equal(t, observation{http.MethodGet, "/items/:id", http.StatusTeapot}, rec.seen[1])
	assert.Equal(t, http.StatusNotFound, rec.seen[2].status)
}

func TestRequestLoggerLogsFailuresAtWarn(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	e := echo.New()
	e.Use(NewRequestLogger(log))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/fail", func(echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", http.NoBody))
	assert.Empty(t, buf.String(), "successful requests are logged at debug")

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", http.NoBody))
	assert.Contains(t, buf.String(), "request failed")
	assert.Contains(t, buf.String(), "/fail")
}
