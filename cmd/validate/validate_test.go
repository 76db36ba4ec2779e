package validate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/markertrack/markertrack/internal/buildinfo"
	"github.com/markertrack/markertrack/internal/detector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCheckValidConfig(t *testing.T) {
	path := writeConfig(t, `
detection:
  dictionary: dict_5x5_100
markers:
  registered: [1, 2]
`)
	report := Check(viper.New(), path, buildinfo.NewContext("1.0.0", "", detector.EngineScripted))

	assert.True(t, report.Valid, "errors: %v", report.Errors)
	assert.Equal(t, detector.EngineScripted, report.Engine)
	assert.Equal(t, "DICT_5X5_100", report.Dictionary)
	require.NotNil(t, report.Parameters)
	assert.Equal(t, detector.DefaultParameters(), *report.Parameters)
	assert.Contains(t, report.Warnings, "calibration: camera is not calibrated, poses are approximate")
}

func TestCheckReportsProblems(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		engines []string
		want    string
	}{
		{
			name:    "engine not compiled in",
			config:  "detection:\n  engine: aruco\n",
			engines: []string{detector.EngineScripted},
			want:    "not compiled into this build",
		},
		{
			name:    "missing script",
			config:  "detection:\n  script: /nonexistent/script.yaml\n",
			engines: []string{detector.EngineScripted},
			want:    "detection script",
		},
		{
			name:    "invalid settings",
			config:  "source:\n  fps: -1\n",
			engines: []string{detector.EngineScripted},
			want:    "fps",
		},
		{
			name:    "empty image directory",
			config:  "source:\n  type: directory\n  path: " + t.TempDir() + "\n",
			engines: []string{detector.EngineScripted},
			want:    "source:",
		},
		{
			name:    "unknown notification service",
			config:  "notify:\n  enabled: true\n  urls: [\"nosuchservice://token@chan\"]\n",
			engines: []string{detector.EngineScripted},
			want:    "notify:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Check(viper.New(), writeConfig(t, tt.config), buildinfo.NewContext("", "", tt.engines...))
			assert.False(t, report.Valid)
			require.NotEmpty(t, report.Errors)
			assert.Contains(t, report.Errors[0], tt.want)
		})
	}
}

func TestCommandPrintsReport(t *testing.T) {
	path := writeConfig(t, "markers:\n  registered: []\n")
	cmd := Command(&path, buildinfo.NewContext("", "", detector.EngineScripted))

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, true, decoded["valid"])
	assert.Contains(t, out.String(), "no ids registered")
	assert.Contains(t, out.String(), "adaptive_thresh_win_size_min")
	assert.Contains(t, decoded, "host")
}
