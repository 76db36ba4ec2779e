// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

const (
	SourceTypeDirectory = "directory"
	SourceTypeSynthetic = "synthetic"

	calibrationMatrixSize = 9
	distortionSize        = 5
)

// ValidateSettings validates the entire Settings struct.
// Detection parameter ranges are checked by the detector package when the
// configuration is bound to an engine.
func ValidateSettings(settings *Settings) error {
	if settings == nil {
		return ValidationError{Errors: []string{"settings are nil"}}
	}

	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateDetectionSettings,
		validatePipelineSettings,
		validateCalibrationSettings,
		validateSourceSettings,
		validateMarkerSettings,
		validateListenSettings,
		validateMQTTSettings,
		validateOutputSettings,
		validateNotifySettings,
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectionSettings(settings *Settings) error {
	var errs []string

	if strings.TrimSpace(settings.Detection.Engine) == "" {
		errs = append(errs, "detection.engine must not be empty")
	}
	if strings.TrimSpace(settings.Detection.Dictionary) == "" {
		errs = append(errs, "detection.dictionary must not be empty")
	}

	return joinErrors("detection", errs)
}

func validatePipelineSettings(settings *Settings) error {
	var errs []string
	p := settings.Pipeline

	if p.StopTimeout <= 0 {
		errs = append(errs, "stop_timeout must be greater than 0")
	}
	if p.DetectTimeout < 0 {
		errs = append(errs, "detect_timeout must not be negative")
	}
	if p.HealthInterval < 0 {
		errs = append(errs, "health_interval must not be negative")
	}

	return joinErrors("pipeline", errs)
}

func validateCalibrationSettings(settings *Settings) error {
	var errs []string
	c := settings.Calibration

	if len(c.CameraMatrix) != calibrationMatrixSize {
		errs = append(errs, fmt.Sprintf("camera_matrix must have %d values, got %d", calibrationMatrixSize, len(c.CameraMatrix)))
	}
	if len(c.Distortion) != distortionSize {
		errs = append(errs, fmt.Sprintf("distortion must have %d values, got %d", distortionSize, len(c.Distortion)))
	}
	if c.ProjectionError < 0 {
		errs = append(errs, "projection_error must not be negative")
	}

	return joinErrors("calibration", errs)
}

func validateSourceSettings(settings *Settings) error {
	var errs []string
	s := settings.Source

	switch s.Type {
	case SourceTypeDirectory:
		if s.Path == "" {
			errs = append(errs, "path is required for the directory source")
		}
	case SourceTypeSynthetic:
		if s.Width <= 0 || s.Height <= 0 {
			errs = append(errs, "width and height must be greater than 0 for the synthetic source")
		}
	default:
		errs = append(errs, fmt.Sprintf("type must be %q or %q, got %q", SourceTypeDirectory, SourceTypeSynthetic, s.Type))
	}

	if s.FPS <= 0 {
		errs = append(errs, "fps must be greater than 0")
	}
	if s.Frames < 0 {
		errs = append(errs, "frames must not be negative")
	}

	return joinErrors("source", errs)
}

func validateMarkerSettings(settings *Settings) error {
	var errs []string

	seen := make(map[int]struct{}, len(settings.Markers.Registered))
	for _, id := range settings.Markers.Registered {
		if id < 0 {
			errs = append(errs, fmt.Sprintf("marker id %d must not be negative", id))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("marker id %d is registered twice", id))
		}
		seen[id] = struct{}{}
	}

	if settings.Markers.SideLength < 0 || math.IsNaN(settings.Markers.SideLength) {
		errs = append(errs, fmt.Sprintf("side_length %v must be zero or positive", settings.Markers.SideLength))
	}

	return joinErrors("markers", errs)
}

func validateListenSettings(settings *Settings) error {
	var errs []string

	if settings.Telemetry.Enabled {
		if err := validateListenAddress(settings.Telemetry.Listen); err != nil {
			errs = append(errs, "telemetry.listen: "+err.Error())
		}
	}
	if settings.API.Enabled {
		if err := validateListenAddress(settings.API.Listen); err != nil {
			errs = append(errs, "api.listen: "+err.Error())
		}
	}

	return joinErrors("listen", errs)
}

func validateListenAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("missing port in %q", addr)
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("host %q is not an IP address", host)
	}
	return nil
}

func validateMQTTSettings(settings *Settings) error {
	m := settings.MQTT
	if !m.Enabled {
		return nil
	}

	var errs []string

	u, err := url.Parse(m.Broker)
	switch {
	case err != nil || u.Host == "":
		errs = append(errs, fmt.Sprintf("broker %q is not a valid URL", m.Broker))
	case !slices.Contains([]string{"tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss"}, u.Scheme):
		errs = append(errs, fmt.Sprintf("broker scheme %q is not supported", u.Scheme))
	}

	if m.Topic == "" {
		errs = append(errs, "topic must not be empty")
	}
	if m.QoS > 2 {
		errs = append(errs, "qos must be 0, 1 or 2")
	}
	if m.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}
	if m.RateLimit > 0 && m.Burst < 1 {
		errs = append(errs, "burst must be at least 1 when rate_limit is set")
	}

	return joinErrors("mqtt", errs)
}

func validateOutputSettings(settings *Settings) error {
	var errs []string

	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		errs = append(errs, "sqlite.path must not be empty when sqlite output is enabled")
	}
	if settings.Sightings.TTL < 0 {
		errs = append(errs, "sightings.ttl must not be negative")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}

	return joinErrors("output", errs)
}

func validateNotifySettings(settings *Settings) error {
	n := &settings.Notify
	if !n.Enabled {
		return nil
	}

	var errs []string
	if len(n.URLs) == 0 {
		errs = append(errs, "at least one url is required when notify is enabled")
	}
	if len(n.Events) == 0 {
		errs = append(errs, "events must not be empty")
	}
	for _, ev := range n.Events {
		if ev != NotifyAppeared && ev != NotifyLost {
			errs = append(errs, fmt.Sprintf("unknown event %q (valid: %s, %s)", ev, NotifyAppeared, NotifyLost))
		}
	}
	if n.Cooldown < 0 {
		errs = append(errs, "cooldown must not be negative")
	}
	if n.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}

	return joinErrors("notify", errs)
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(section + " settings errors: " + strings.Join(errs, ", "))
}
