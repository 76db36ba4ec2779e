// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/markertrack/markertrack/internal/logger"
)

// Default detection parameters, matching the OpenCV ArUco detector.
const (
	DefaultAdaptiveThreshWinSizeMin              = 3
	DefaultAdaptiveThreshWinSizeMax              = 23
	DefaultAdaptiveThreshWinSizeStep             = 10
	DefaultAdaptiveThreshConstant                = 7.0
	DefaultMinMarkerPerimeterRate                = 0.03
	DefaultMaxMarkerPerimeterRate                = 4.0
	DefaultPolygonalApproxAccuracyRate           = 0.03
	DefaultMinCornerDistanceRate                 = 0.05
	DefaultMinDistanceToBorder                   = 3
	DefaultMinMarkerDistanceRate                 = 0.05
	DefaultCornerRefinementWinSize               = 5
	DefaultCornerRefinementMaxIterations         = 30
	DefaultCornerRefinementMinAccuracy           = 0.1
	DefaultMarkerBorderBits                      = 1
	DefaultPerspectiveRemovePixelPerCell         = 8
	DefaultPerspectiveRemoveIgnoredMarginPerCell = 0.13
	DefaultMaxErroneousBitsInBorderRate          = 0.35
	DefaultMinOtsuStdDev                         = 5.0
	DefaultErrorCorrectionRate                   = 0.6
)

// DefaultDetectionParameters returns the OpenCV defaults for all 19 tuning parameters
func DefaultDetectionParameters() DetectionParameters {
	return DetectionParameters{
		AdaptiveThreshWinSizeMin:              DefaultAdaptiveThreshWinSizeMin,
		AdaptiveThreshWinSizeMax:              DefaultAdaptiveThreshWinSizeMax,
		AdaptiveThreshWinSizeStep:             DefaultAdaptiveThreshWinSizeStep,
		AdaptiveThreshConstant:                DefaultAdaptiveThreshConstant,
		MinMarkerPerimeterRate:                DefaultMinMarkerPerimeterRate,
		MaxMarkerPerimeterRate:                DefaultMaxMarkerPerimeterRate,
		PolygonalApproxAccuracyRate:           DefaultPolygonalApproxAccuracyRate,
		MinCornerDistanceRate:                 DefaultMinCornerDistanceRate,
		MinDistanceToBorder:                   DefaultMinDistanceToBorder,
		MinMarkerDistanceRate:                 DefaultMinMarkerDistanceRate,
		CornerRefinementWinSize:               DefaultCornerRefinementWinSize,
		CornerRefinementMaxIterations:         DefaultCornerRefinementMaxIterations,
		CornerRefinementMinAccuracy:           DefaultCornerRefinementMinAccuracy,
		MarkerBorderBits:                      DefaultMarkerBorderBits,
		PerspectiveRemovePixelPerCell:         DefaultPerspectiveRemovePixelPerCell,
		PerspectiveRemoveIgnoredMarginPerCell: DefaultPerspectiveRemoveIgnoredMarginPerCell,
		MaxErroneousBitsInBorderRate:          DefaultMaxErroneousBitsInBorderRate,
		MinOtsuStdDev:                         DefaultMinOtsuStdDev,
		ErrorCorrectionRate:                   DefaultErrorCorrectionRate,
	}
}

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "markertrack")
	v.SetDefault("main.debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("detection.engine", "scripted")
	v.SetDefault("detection.script", "")
	v.SetDefault("detection.dictionary", "DICT_4X4_50")
	v.SetDefault("detection.corner_refinement", true)

	p := DefaultDetectionParameters()
	v.SetDefault("detection.parameters.adaptive_thresh_win_size_min", p.AdaptiveThreshWinSizeMin)
	v.SetDefault("detection.parameters.adaptive_thresh_win_size_max", p.AdaptiveThreshWinSizeMax)
	v.SetDefault("detection.parameters.adaptive_thresh_win_size_step", p.AdaptiveThreshWinSizeStep)
	v.SetDefault("detection.parameters.adaptive_thresh_constant", p.AdaptiveThreshConstant)
	v.SetDefault("detection.parameters.min_marker_perimeter_rate", p.MinMarkerPerimeterRate)
	v.SetDefault("detection.parameters.max_marker_perimeter_rate", p.MaxMarkerPerimeterRate)
	v.SetDefault("detection.parameters.polygonal_approx_accuracy_rate", p.PolygonalApproxAccuracyRate)
	v.SetDefault("detection.parameters.min_corner_distance_rate", p.MinCornerDistanceRate)
	v.SetDefault("detection.parameters.min_distance_to_border", p.MinDistanceToBorder)
	v.SetDefault("detection.parameters.min_marker_distance_rate", p.MinMarkerDistanceRate)
	v.SetDefault("detection.parameters.corner_refinement_win_size", p.CornerRefinementWinSize)
	v.SetDefault("detection.parameters.corner_refinement_max_iterations", p.CornerRefinementMaxIterations)
	v.SetDefault("detection.parameters.corner_refinement_min_accuracy", p.CornerRefinementMinAccuracy)
	v.SetDefault("detection.parameters.marker_border_bits", p.MarkerBorderBits)
	v.SetDefault("detection.parameters.perspective_remove_pixel_per_cell", p.PerspectiveRemovePixelPerCell)
	v.SetDefault("detection.parameters.perspective_remove_ignored_margin_per_cell", p.PerspectiveRemoveIgnoredMarginPerCell)
	v.SetDefault("detection.parameters.max_erroneous_bits_in_border_rate", p.MaxErroneousBitsInBorderRate)
	v.SetDefault("detection.parameters.min_otsu_std_dev", p.MinOtsuStdDev)
	v.SetDefault("detection.parameters.error_correction_rate", p.ErrorCorrectionRate)

	v.SetDefault("pipeline.stop_timeout", 5*time.Second)
	v.SetDefault("pipeline.detect_timeout", time.Duration(0))
	v.SetDefault("pipeline.throw_marker_callbacks", true)
	v.SetDefault("pipeline.health_interval", 10*time.Second)

	v.SetDefault("calibration.calibrated", false)
	v.SetDefault("calibration.camera_matrix", []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	v.SetDefault("calibration.distortion", []float64{0, 0, 0, 0, 0})
	v.SetDefault("calibration.projection_error", 0.0)

	v.SetDefault("source.type", "synthetic")
	v.SetDefault("source.path", "")
	v.SetDefault("source.fps", 30.0)
	v.SetDefault("source.loop", true)
	v.SetDefault("source.frames", 0)
	v.SetDefault("source.width", 640)
	v.SetDefault("source.height", 480)

	v.SetDefault("markers.registered", []int{})
	v.SetDefault("markers.side_length", 0.05)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8080")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "markertrack")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.rate_limit", 10.0)
	v.SetDefault("mqtt.burst", 5)

	v.SetDefault("output.sqlite.enabled", false)
	v.SetDefault("output.sqlite.path", "markertrack.db")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.events", []string{"lost"})
	v.SetDefault("notify.cooldown", time.Minute)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("sightings.ttl", 5*time.Minute)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
