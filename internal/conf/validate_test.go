package conf

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Detection: DetectionSettings{
			Engine:     "scripted",
			Dictionary: "DICT_4X4_50",
			Parameters: DefaultDetectionParameters(),
		},
		Pipeline: PipelineSettings{
			StopTimeout:    5 * time.Second,
			HealthInterval: 10 * time.Second,
		},
		Calibration: CalibrationSettings{
			CameraMatrix: []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
			Distortion:   []float64{0, 0, 0, 0, 0},
		},
		Source: SourceSettings{Type: SourceTypeSynthetic, FPS: 30, Width: 64, Height: 48},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"empty engine", func(s *Settings) { s.Detection.Engine = "" }, "detection.engine"},
		{"negative detect timeout", func(s *Settings) { s.Pipeline.DetectTimeout = -time.Second }, "detect_timeout"},
		{"short camera matrix", func(s *Settings) { s.Calibration.CameraMatrix = []float64{1} }, "camera_matrix"},
		{"directory without path", func(s *Settings) { s.Source.Type = SourceTypeDirectory }, "path is required"},
		{"zero fps", func(s *Settings) { s.Source.FPS = 0 }, "fps"},
		{"duplicate marker", func(s *Settings) { s.Markers.Registered = []int{4, 4} }, "registered twice"},
		{"negative marker", func(s *Settings) { s.Markers.Registered = []int{-1} }, "negative"},
		{"negative side length", func(s *Settings) { s.Markers.SideLength = -0.1 }, "side_length"},
		{"bad api listen", func(s *Settings) {
			s.API.Enabled = true
			s.API.Listen = "nonsense"
		}, "api.listen"},
		{"mqtt bad scheme", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "http://broker:1883", Topic: "t"}
		}, "scheme"},
		{"mqtt qos", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", Topic: "t", QoS: 3}
		}, "qos"},
		{"mqtt burst", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", Topic: "t", RateLimit: 5}
		}, "burst"},
		{"sqlite without path", func(s *Settings) { s.Output.SQLite.Enabled = true }, "sqlite.path"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"notify without urls", func(s *Settings) {
			s.Notify = NotifySettings{Enabled: true, Events: []string{NotifyLost}}
		}, "url"},
		{"notify unknown event", func(s *Settings) {
			s.Notify = NotifySettings{Enabled: true, URLs: []string{"generic://example.com"}, Events: []string{"moved"}}
		}, "moved"},
		{"notify negative cooldown", func(s *Settings) {
			s.Notify = NotifySettings{Enabled: true, URLs: []string{"generic://example.com"}, Events: []string{NotifyLost}, Cooldown: -time.Second}
		}, "cooldown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := validSettings()
			tc.mutate(s)

			err := ValidateSettings(s)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantErr), "error %q should mention %q", err, tc.wantErr)
		})
	}
}

func TestValidateSettings_Nil(t *testing.T) {
	t.Parallel()
	require.Error(t, ValidateSettings(nil))
}

func TestBindEnvVars_ReportsInvalidValues(t *testing.T) {
	t.Setenv("MARKERTRACK_DETECT_TIMEOUT", "soon")
	t.Setenv("MARKERTRACK_SOURCE_FPS", "-3")

	err := bindEnvVars(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARKERTRACK_DETECT_TIMEOUT")
	assert.Contains(t, err.Error(), "MARKERTRACK_SOURCE_FPS")
}
