// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly validated environment variable bindings.
// Every other key is reachable as MARKERTRACK_<SECTION>_<KEY> through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.debug", EnvPrefix + "_DEBUG", validateEnvBool},
		{"detection.engine", EnvPrefix + "_ENGINE", nil},
		{"detection.dictionary", EnvPrefix + "_DICTIONARY", nil},
		{"pipeline.detect_timeout", EnvPrefix + "_DETECT_TIMEOUT", validateEnvDuration},
		{"pipeline.stop_timeout", EnvPrefix + "_STOP_TIMEOUT", validateEnvDuration},
		{"source.fps", EnvPrefix + "_SOURCE_FPS", validateEnvPositiveFloat},
		{"mqtt.broker", EnvPrefix + "_MQTT_BROKER", nil},
		{"mqtt.password", EnvPrefix + "_MQTT_PASSWORD", nil},
		{"sentry.dsn", EnvPrefix + "_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 500ms or 2s")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}
