// Package observability provides Prometheus metrics functionality for monitoring markertrack.
// Error telemetry is handled by the errors package.
package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/logger"
	metricspkg "github.com/markertrack/markertrack/internal/observability/metrics"
)

const readHeaderTimeout = 10 * time.Second

// Endpoint serves /metrics (and pprof in debug mode) on the telemetry address.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	debug         bool
	metrics       *Metrics
}

// NewEndpoint creates a new telemetry Endpoint. It returns an error if
// telemetry is not enabled in the settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		debug:         settings.Main.Debug,
		metrics:       metrics,
	}, nil
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.debug {
		RegisterDebugHandlers(mux)
	}

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("telemetry endpoint: %w", err)
	}

	log := GetLogger()
	log.Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("telemetry HTTP server error", logger.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	log.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
