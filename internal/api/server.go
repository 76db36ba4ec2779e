package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/markertrack/markertrack/internal/api/middleware"
	"github.com/markertrack/markertrack/internal/datastore"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/focus"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/marker"
	"github.com/markertrack/markertrack/internal/observability"
	"github.com/markertrack/markertrack/internal/pipeline"
	"github.com/markertrack/markertrack/internal/sightings"
)

// PipelineStatus reports coordinator counters. *pipeline.Coordinator satisfies it.
type PipelineStatus interface {
	Stats() pipeline.Stats
}

// MarkerSource lists the registered markers. *marker.Manager satisfies it.
type MarkerSource interface {
	Markers() []*marker.Marker
}

// SightingSource answers last-seen queries. *sightings.Store satisfies it.
type SightingSource interface {
	Get(id int) (sightings.Sighting, bool)
	List() []sightings.Sighting
}

// HistorySource answers persisted transition queries. *datastore.Store satisfies it.
type HistorySource interface {
	History(ctx context.Context, markerID, limit int) ([]datastore.Sighting, error)
	Summaries(ctx context.Context) ([]datastore.MarkerSummary, error)
}

// FocusSource reports the camera tracker state. *focus.CameraTracker satisfies it.
type FocusSource interface {
	RepositionNeeded() bool
	Visible() []int
	Closest() (focus.Target, bool)
}

// Server is the status API server.
type Server struct {
	echo   *echo.Echo
	config Config
	logger logger.Logger

	pipeline  PipelineStatus
	markers   MarkerSource
	sightings SightingSource
	history   HistorySource
	focus     FocusSource
	metrics   *observability.Metrics

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithPipeline sets the coordinator whose counters are served.
func WithPipeline(p PipelineStatus) ServerOption {
	return func(s *Server) {
		s.pipeline = p
	}
}

// WithMarkers sets the marker registry.
func WithMarkers(m MarkerSource) ServerOption {
	return func(s *Server) {
		s.markers = m
	}
}

// WithSightings sets the recent sightings cache.
func WithSightings(src SightingSource) ServerOption {
	return func(s *Server) {
		s.sightings = src
	}
}

// WithHistory sets the sighting history store.
func WithHistory(h HistorySource) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// WithFocus sets the camera tracker.
func WithFocus(f FocusSource) ServerOption {
	return func(s *Server) {
		s.focus = f
	}
}

// WithMetrics sets the observability metrics. Enables /metrics and request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a new HTTP server with the given configuration and options.
func New(config Config, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}

	s := &Server{
		config:    config,
		logger:    GetLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Info("HTTP server initialized", logger.String("address", config.Listen))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.logger))

	if s.metrics != nil && s.metrics.HTTP != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/pipeline", s.pipelineStatus)
	v1.GET("/markers", s.listMarkers)
	v1.GET("/markers/:id", s.getMarker)
	v1.GET("/focus", s.focusStatus)
	v1.GET("/history", s.historySummaries)
}

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.String("address", s.config.Listen))
		err := s.echo.Start(s.config.Listen)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.New(err).
				Component("api").
				Category(errors.CategoryHTTP).
				Context("listen", s.config.Listen).
				Build()
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Timing("shutdown", s.config.ShutdownTimeout).
			Build()
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
