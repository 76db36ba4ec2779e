// Package api provides the HTTP status API: health, marker state, pipeline
// counters and the Prometheus scrape endpoint.
package api

import (
	"net"
	"time"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultHistoryLimit caps the transitions returned by the marker detail endpoint
	DefaultHistoryLimit = 20
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port to bind

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	HistoryLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		HistoryLimit:    DefaultHistoryLimit,
	}
}

// ConfigFromSettings creates a Config from the api section of the settings.
func ConfigFromSettings(s *conf.APISettings) Config {
	cfg := DefaultConfig()
	if s != nil && s.Listen != "" {
		cfg.Listen = s.Listen
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Context("listen", c.Listen).
			Build()
	}
	if c.ShutdownTimeout <= 0 {
		return errors.Newf("shutdown timeout must be positive, got %v", c.ShutdownTimeout).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
