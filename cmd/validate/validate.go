package validate

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/markertrack/markertrack/internal/buildinfo"
	"github.com/markertrack/markertrack/internal/calibration"
	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/cpuspec"
	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/framesource"
	"github.com/markertrack/markertrack/internal/notify"
	"github.com/markertrack/markertrack/internal/pipeline"
)

// Report is what validate prints
type Report struct {
	buildinfo.ValidationResult `yaml:",inline"`

	Engine     string               `yaml:"engine,omitempty"`
	Dictionary string               `yaml:"dictionary,omitempty"`
	Parameters *detector.Parameters `yaml:"parameters,omitempty"`
	Host       cpuspec.CPUSpec      `yaml:"host"`
}

// Command creates the validate command. It loads the configuration, runs the
// startup checks of the track command without starting anything, and prints
// the effective detection parameters.
func Command(configFile *string, build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective detection parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := Check(viper.GetViper(), *configFile, build)

			data, err := yaml.Marshal(report)
			if err != nil {
				return fmt.Errorf("error marshaling report: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}

			if !report.Valid {
				return fmt.Errorf("configuration has %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
}

// Check loads the configuration through v and collects every problem found
func Check(v *viper.Viper, configFile string, build *buildinfo.Context) *Report {
	report := &Report{
		ValidationResult: *buildinfo.NewValidationResult(),
		Host:             cpuspec.GetCPUSpec(),
	}
	if report.Host.Constrained() {
		report.AddWarning(fmt.Sprintf("host: %d of %d CPUs available, detection shares cores with the worker stages",
			report.Host.AvailableCPUs, report.Host.LogicalCores))
	}

	settings, err := conf.LoadWithViper(v, configFile)
	if err != nil {
		report.AddError(err.Error())
		return report
	}

	checkDetection(report, settings, build)
	checkCalibration(report, settings)

	if _, err := framesource.New(&settings.Source); err != nil {
		report.AddError("source: " + err.Error())
	}

	if settings.Notify.Enabled {
		// parses every service URL without sending anything
		if _, err := notify.NewShoutrrrSender(settings.Notify.URLs, settings.Notify.Timeout); err != nil {
			report.AddError("notify: " + err.Error())
		}
	}

	if len(settings.Markers.Registered) == 0 {
		report.AddWarning("markers: no ids registered, detections will only be counted")
		if settings.Output.SQLite.Enabled {
			// the recorder stores registered ids only
			report.AddWarning("output.sqlite: nothing will be stored")
		}
	}

	return report
}

func checkDetection(report *Report, settings *conf.Settings, build *buildinfo.Context) {
	cfg, err := pipeline.ConfigFromSettings(settings)
	if err != nil {
		report.AddError("detection: " + err.Error())
		return
	}
	report.Engine = cfg.Detection.Engine
	report.Dictionary = cfg.Detection.Dictionary.String()
	report.Parameters = &cfg.Detection.Parameters

	if !build.HasEngine(settings.Detection.Engine) {
		report.AddError(fmt.Sprintf("detection.engine: %q is not compiled into this build (available: %v)",
			settings.Detection.Engine, detector.Names()))
		return
	}

	engine, err := detector.New(&settings.Detection)
	if err != nil {
		report.AddError("detection: " + err.Error())
		return
	}
	if c, ok := engine.(detector.Closer); ok {
		_ = c.Close()
	}
}

func checkCalibration(report *Report, settings *conf.Settings) {
	cal, err := calibration.FromSettings(&settings.Calibration)
	if err != nil {
		report.AddError("calibration: " + err.Error())
		return
	}
	if !cal.Calibrated() {
		report.AddWarning("calibration: camera is not calibrated, poses are approximate")
	}
	if settings.Markers.SideLength == 0 {
		report.AddWarning("markers.side_length: pose estimation disabled")
	}
}
