// config.go: settings structure and loading
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/markertrack/markertrack/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix for environment variable overrides, e.g. MARKERTRACK_MQTT_BROKER
const EnvPrefix = "MARKERTRACK"

// MainSettings contains process-wide settings
type MainSettings struct {
	Name  string `yaml:"name" mapstructure:"name"`   // instance name, used as MQTT client id prefix
	Debug bool   `yaml:"debug" mapstructure:"debug"` // raises every module to debug level
}

// DetectionParameters are the 19 tuning knobs forwarded to the marker detection engine.
// Defaults mirror the OpenCV ArUco detector defaults.
type DetectionParameters struct {
	AdaptiveThreshWinSizeMin              int     `yaml:"adaptive_thresh_win_size_min" mapstructure:"adaptive_thresh_win_size_min"`
	AdaptiveThreshWinSizeMax              int     `yaml:"adaptive_thresh_win_size_max" mapstructure:"adaptive_thresh_win_size_max"`
	AdaptiveThreshWinSizeStep             int     `yaml:"adaptive_thresh_win_size_step" mapstructure:"adaptive_thresh_win_size_step"`
	AdaptiveThreshConstant                float64 `yaml:"adaptive_thresh_constant" mapstructure:"adaptive_thresh_constant"`
	MinMarkerPerimeterRate                float64 `yaml:"min_marker_perimeter_rate" mapstructure:"min_marker_perimeter_rate"`
	MaxMarkerPerimeterRate                float64 `yaml:"max_marker_perimeter_rate" mapstructure:"max_marker_perimeter_rate"`
	PolygonalApproxAccuracyRate           float64 `yaml:"polygonal_approx_accuracy_rate" mapstructure:"polygonal_approx_accuracy_rate"`
	MinCornerDistanceRate                 float64 `yaml:"min_corner_distance_rate" mapstructure:"min_corner_distance_rate"`
	MinDistanceToBorder                   int     `yaml:"min_distance_to_border" mapstructure:"min_distance_to_border"`
	MinMarkerDistanceRate                 float64 `yaml:"min_marker_distance_rate" mapstructure:"min_marker_distance_rate"`
	CornerRefinementWinSize               int     `yaml:"corner_refinement_win_size" mapstructure:"corner_refinement_win_size"`
	CornerRefinementMaxIterations         int     `yaml:"corner_refinement_max_iterations" mapstructure:"corner_refinement_max_iterations"`
	CornerRefinementMinAccuracy           float64 `yaml:"corner_refinement_min_accuracy" mapstructure:"corner_refinement_min_accuracy"`
	MarkerBorderBits                      int     `yaml:"marker_border_bits" mapstructure:"marker_border_bits"`
	PerspectiveRemovePixelPerCell         int     `yaml:"perspective_remove_pixel_per_cell" mapstructure:"perspective_remove_pixel_per_cell"`
	PerspectiveRemoveIgnoredMarginPerCell float64 `yaml:"perspective_remove_ignored_margin_per_cell" mapstructure:"perspective_remove_ignored_margin_per_cell"`
	MaxErroneousBitsInBorderRate          float64 `yaml:"max_erroneous_bits_in_border_rate" mapstructure:"max_erroneous_bits_in_border_rate"`
	MinOtsuStdDev                         float64 `yaml:"min_otsu_std_dev" mapstructure:"min_otsu_std_dev"`
	ErrorCorrectionRate                   float64 `yaml:"error_correction_rate" mapstructure:"error_correction_rate"`
}

// DetectionSettings selects the engine, dictionary and tuning parameters
type DetectionSettings struct {
	Engine           string              `yaml:"engine" mapstructure:"engine"`                       // registered engine name: scripted, aruco
	Script           string              `yaml:"script" mapstructure:"script"`                       // YAML script for the scripted engine
	Dictionary       string              `yaml:"dictionary" mapstructure:"dictionary"`               // predefined dictionary name, e.g. DICT_4X4_50
	CornerRefinement bool                `yaml:"corner_refinement" mapstructure:"corner_refinement"` // subpixel corner refinement
	Parameters       DetectionParameters `yaml:"parameters" mapstructure:"parameters"`
}

// PipelineSettings controls the stage-gated frame pipeline
type PipelineSettings struct {
	StopTimeout          time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`                     // bounded join on Stop
	DetectTimeout        time.Duration `yaml:"detect_timeout" mapstructure:"detect_timeout"`                 // 0 disables the engine call timeout
	ThrowMarkerCallbacks bool          `yaml:"throw_marker_callbacks" mapstructure:"throw_marker_callbacks"` // false skips reconciliation
	HealthInterval       time.Duration `yaml:"health_interval" mapstructure:"health_interval"`               // 0 disables the health monitor
}

// CalibrationSettings holds camera intrinsics in row-major order
type CalibrationSettings struct {
	Calibrated      bool      `yaml:"calibrated" mapstructure:"calibrated"`
	CameraMatrix    []float64 `yaml:"camera_matrix" mapstructure:"camera_matrix"` // m00..m22
	Distortion      []float64 `yaml:"distortion" mapstructure:"distortion"`       // k1, k2, p1, p2, k3
	ProjectionError float64   `yaml:"projection_error" mapstructure:"projection_error"`
}

// SourceSettings configures the reference frame source used by the track command
type SourceSettings struct {
	Type   string  `yaml:"type" mapstructure:"type"` // directory or synthetic
	Path   string  `yaml:"path" mapstructure:"path"` // image directory for the directory source
	FPS    float64 `yaml:"fps" mapstructure:"fps"`
	Loop   bool    `yaml:"loop" mapstructure:"loop"`
	Frames int     `yaml:"frames" mapstructure:"frames"` // frames to emit, 0 runs until stopped
	Width  int     `yaml:"width" mapstructure:"width"`   // synthetic frame size
	Height int     `yaml:"height" mapstructure:"height"`
}

// MarkerSettings lists the marker ids known to the registry
type MarkerSettings struct {
	Registered []int   `yaml:"registered" mapstructure:"registered"`
	SideLength float64 `yaml:"side_length" mapstructure:"side_length"` // printed edge length in meters; 0 disables pose estimation
}

// TelemetrySettings controls the Prometheus metrics endpoint
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// APISettings controls the HTTP status API
type APISettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings contains settings for publishing marker events to an MQTT broker
type MQTTSettings struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	Broker    string  `yaml:"broker" mapstructure:"broker"`
	Topic     string  `yaml:"topic" mapstructure:"topic"` // topic prefix; events go to <topic>/detected and <topic>/lost
	Username  string  `yaml:"username" mapstructure:"username"`
	Password  string  `yaml:"password" mapstructure:"password"`
	QoS       byte    `yaml:"qos" mapstructure:"qos"`
	Retain    bool    `yaml:"retain" mapstructure:"retain"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // detected events per second, 0 is unlimited
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// SQLiteSettings configures the sighting history database
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// OutputSettings groups persistent outputs
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
}

// Transition names accepted in notify.events
const (
	NotifyAppeared = "appeared"
	NotifyLost     = "lost"
)

// NotifySettings configures push notifications on marker transitions. URLs
// use the shoutrrr service format, e.g. discord://token@channel.
type NotifySettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs     []string      `yaml:"urls" mapstructure:"urls"`
	Events   []string      `yaml:"events" mapstructure:"events"`     // "appeared", "lost"
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"` // per marker
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SightingsSettings configures the in-memory recent sightings cache
type SightingsSettings struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// Settings is the root configuration
type Settings struct {
	Main        MainSettings         `yaml:"main" mapstructure:"main"`
	Logging     logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Detection   DetectionSettings    `yaml:"detection" mapstructure:"detection"`
	Pipeline    PipelineSettings     `yaml:"pipeline" mapstructure:"pipeline"`
	Calibration CalibrationSettings  `yaml:"calibration" mapstructure:"calibration"`
	Source      SourceSettings       `yaml:"source" mapstructure:"source"`
	Markers     MarkerSettings       `yaml:"markers" mapstructure:"markers"`
	Telemetry   TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	API         APISettings          `yaml:"api" mapstructure:"api"`
	MQTT        MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Output      OutputSettings       `yaml:"output" mapstructure:"output"`
	Notify      NotifySettings       `yaml:"notify" mapstructure:"notify"`
	Sightings   SightingsSettings    `yaml:"sightings" mapstructure:"sightings"`
	Sentry      SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the global settings.
// An empty configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadWithViper(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// LoadWithViper loads settings through the given viper instance without touching the
// global settings. Flags bound to v by the CLI take precedence over file values.
func LoadWithViper(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	applyDebug(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, binds the environment and reads the configuration file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		GetLogger().Warn("environment override problems", logger.Error(err))
	}

	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// defaults and environment are enough to run
			GetLogger().Info("no config file found, using defaults",
				logger.Any("search_paths", configPaths))
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// applyDebug raises logging levels when main.debug is set
func applyDebug(settings *Settings) {
	if !settings.Main.Debug {
		return
	}

	settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	if settings.Logging.Console != nil {
		settings.Logging.Console.Level = string(logger.LogLevelDebug)
	}
	if settings.Logging.FileOutput != nil {
		settings.Logging.FileOutput.Level = string(logger.LogLevelDebug)
	}
}

// DefaultConfigYAML returns the embedded default configuration file
func DefaultConfigYAML() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// CreateDefaultConfig writes the embedded default configuration to path unless it exists
func CreateDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	data, err := DefaultConfigYAML()
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
