package detector

import (
	"fmt"
	"math"
	"strings"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
)

// Parameters is the tuning bundle handed unchanged to every Detect call.
// The 19 numeric fields follow the OpenCV ArUco DetectorParameters.
type Parameters struct {
	conf.DetectionParameters `yaml:",inline"`

	// CornerRefinement enables subpixel corner refinement
	CornerRefinement bool `yaml:"corner_refinement"`
}

// DefaultParameters returns the OpenCV defaults with corner refinement enabled
func DefaultParameters() Parameters {
	return Parameters{
		DetectionParameters: conf.DefaultDetectionParameters(),
		CornerRefinement:    true,
	}
}

// Validate checks every parameter against the ranges the engine accepts and
// returns all violations at once.
func (p *Parameters) Validate() error {
	var problems []string

	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	finite := map[string]float64{
		"adaptive_thresh_constant":                   p.AdaptiveThreshConstant,
		"min_marker_perimeter_rate":                  p.MinMarkerPerimeterRate,
		"max_marker_perimeter_rate":                  p.MaxMarkerPerimeterRate,
		"polygonal_approx_accuracy_rate":             p.PolygonalApproxAccuracyRate,
		"min_corner_distance_rate":                   p.MinCornerDistanceRate,
		"min_marker_distance_rate":                   p.MinMarkerDistanceRate,
		"corner_refinement_min_accuracy":             p.CornerRefinementMinAccuracy,
		"perspective_remove_ignored_margin_per_cell": p.PerspectiveRemoveIgnoredMarginPerCell,
		"max_erroneous_bits_in_border_rate":          p.MaxErroneousBitsInBorderRate,
		"min_otsu_std_dev":                           p.MinOtsuStdDev,
		"error_correction_rate":                      p.ErrorCorrectionRate,
	}
	for name, v := range finite {
		check(!math.IsNaN(v) && !math.IsInf(v, 0), "%s must be a finite number", name)
	}

	check(p.AdaptiveThreshWinSizeMin >= 3, "adaptive_thresh_win_size_min must be >= 3, got %d", p.AdaptiveThreshWinSizeMin)
	check(p.AdaptiveThreshWinSizeMax >= p.AdaptiveThreshWinSizeMin,
		"adaptive_thresh_win_size_max (%d) must be >= adaptive_thresh_win_size_min (%d)",
		p.AdaptiveThreshWinSizeMax, p.AdaptiveThreshWinSizeMin)
	check(p.AdaptiveThreshWinSizeStep > 0, "adaptive_thresh_win_size_step must be > 0, got %d", p.AdaptiveThreshWinSizeStep)

	check(p.MinMarkerPerimeterRate > 0, "min_marker_perimeter_rate must be > 0, got %g", p.MinMarkerPerimeterRate)
	check(p.MaxMarkerPerimeterRate > p.MinMarkerPerimeterRate,
		"max_marker_perimeter_rate (%g) must be > min_marker_perimeter_rate (%g)",
		p.MaxMarkerPerimeterRate, p.MinMarkerPerimeterRate)
	check(p.PolygonalApproxAccuracyRate > 0, "polygonal_approx_accuracy_rate must be > 0, got %g", p.PolygonalApproxAccuracyRate)
	check(p.MinCornerDistanceRate >= 0, "min_corner_distance_rate must be >= 0, got %g", p.MinCornerDistanceRate)
	check(p.MinDistanceToBorder >= 0, "min_distance_to_border must be >= 0, got %d", p.MinDistanceToBorder)
	check(p.MinMarkerDistanceRate >= 0, "min_marker_distance_rate must be >= 0, got %g", p.MinMarkerDistanceRate)

	check(p.CornerRefinementWinSize >= 1, "corner_refinement_win_size must be >= 1, got %d", p.CornerRefinementWinSize)
	check(p.CornerRefinementMaxIterations >= 1, "corner_refinement_max_iterations must be >= 1, got %d", p.CornerRefinementMaxIterations)
	check(p.CornerRefinementMinAccuracy > 0, "corner_refinement_min_accuracy must be > 0, got %g", p.CornerRefinementMinAccuracy)

	check(p.MarkerBorderBits >= 1, "marker_border_bits must be >= 1, got %d", p.MarkerBorderBits)
	check(p.PerspectiveRemovePixelPerCell >= 1, "perspective_remove_pixel_per_cell must be >= 1, got %d", p.PerspectiveRemovePixelPerCell)
	check(p.PerspectiveRemoveIgnoredMarginPerCell >= 0 && p.PerspectiveRemoveIgnoredMarginPerCell < 0.5,
		"perspective_remove_ignored_margin_per_cell must be in [0, 0.5), got %g", p.PerspectiveRemoveIgnoredMarginPerCell)
	check(p.MaxErroneousBitsInBorderRate >= 0 && p.MaxErroneousBitsInBorderRate <= 1,
		"max_erroneous_bits_in_border_rate must be in [0, 1], got %g", p.MaxErroneousBitsInBorderRate)
	check(p.MinOtsuStdDev >= 0, "min_otsu_std_dev must be >= 0, got %g", p.MinOtsuStdDev)
	check(p.ErrorCorrectionRate >= 0 && p.ErrorCorrectionRate <= 1,
		"error_correction_rate must be in [0, 1], got %g", p.ErrorCorrectionRate)

	if len(problems) == 0 {
		return nil
	}

	return errors.Newf("invalid detection parameters: %s", strings.Join(problems, "; ")).
		Component("detector").
		Category(errors.CategoryValidation).
		Context("violations", len(problems)).
		Build()
}

// Config is the detection configuration bound once when a pipeline starts
type Config struct {
	Engine     string
	Dictionary Dictionary
	Parameters Parameters
}

// ConfigFromSettings resolves and validates the detection section of the settings
func ConfigFromSettings(s *conf.DetectionSettings) (Config, error) {
	dict, err := ParseDictionary(s.Dictionary)
	if err != nil {
		return Config{}, errors.New(err).
			Component("detector").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg := Config{
		Engine:     s.Engine,
		Dictionary: dict,
		Parameters: Parameters{
			DetectionParameters: s.Parameters,
			CornerRefinement:    s.CornerRefinement,
		},
	}

	if err := cfg.Parameters.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
