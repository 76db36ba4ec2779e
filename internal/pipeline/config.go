package pipeline

import (
	"time"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/errors"
)

// DefaultStopTimeout bounds Stop when the configuration gives no value
const DefaultStopTimeout = 5 * time.Second

// Config is the configuration bound by Start. It cannot change while the
// pipeline runs; reconfigure with Stop, Reconfigure, Start.
type Config struct {
	Detection detector.Config

	// ThrowMarkerCallbacks off skips reconciliation; frames still cycle
	ThrowMarkerCallbacks bool
	// DetectTimeout abandons a detection call after this long; zero waits forever
	DetectTimeout time.Duration
	// StopTimeout is used by Stop when called with a zero timeout
	StopTimeout time.Duration
}

// DefaultConfig returns a configuration using the default detection
// parameters with reconciliation enabled
func DefaultConfig() Config {
	return Config{
		Detection: detector.Config{
			Engine:     detector.EngineScripted,
			Dictionary: detector.Dict4x4_50,
			Parameters: detector.DefaultParameters(),
		},
		ThrowMarkerCallbacks: true,
		StopTimeout:          DefaultStopTimeout,
	}
}

// ConfigFromSettings builds and validates a Config from the settings
func ConfigFromSettings(s *conf.Settings) (Config, error) {
	det, err := detector.ConfigFromSettings(&s.Detection)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Detection:            det,
		ThrowMarkerCallbacks: s.Pipeline.ThrowMarkerCallbacks,
		DetectTimeout:        s.Pipeline.DetectTimeout,
		StopTimeout:          s.Pipeline.StopTimeout,
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration before it is bound
func (c *Config) Validate() error {
	if !c.Detection.Dictionary.Valid() {
		return errors.Newf("unknown marker dictionary %q", c.Detection.Dictionary).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.DetectTimeout < 0 || c.StopTimeout < 0 {
		return errors.Newf("pipeline timeouts must not be negative").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("detect_timeout", c.DetectTimeout.String()).
			Context("stop_timeout", c.StopTimeout.String()).
			Build()
	}
	return c.Detection.Parameters.Validate()
}
