package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
)

func TestNew_Valid(t *testing.T) {
	t.Parallel()

	matrix := []float64{800, 0, 320, 0, 810, 240, 0, 0, 1}
	dist := []float64{0.1, -0.2, 0, 0, 0.05}

	d, err := New(matrix, dist, 0.31, true)
	require.NoError(t, err)

	fx, fy := d.FocalLength()
	assert.InDelta(t, 800, fx, 0)
	assert.InDelta(t, 810, fy, 0)

	cx, cy := d.PrincipalPoint()
	assert.InDelta(t, 320, cx, 0)
	assert.InDelta(t, 240, cy, 0)

	assert.True(t, d.Calibrated())
	assert.InDelta(t, 0.31, d.ProjectionError(), 0)
	assert.Equal(t, dist, d.DistortionCoefficients())

	// returned values are copies
	d.CameraMatrix().Set(0, 0, 1)
	d.DistortionCoefficients()[0] = 99
	matrix[0] = 1
	fx, _ = d.FocalLength()
	assert.InDelta(t, 800, fx, 0)
	assert.InDelta(t, 0.1, d.DistortionCoefficients()[0], 0)
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	zeros := make([]float64, 5)

	testCases := []struct {
		name    string
		matrix  []float64
		dist    []float64
		projErr float64
	}{
		{"short matrix", []float64{1, 2, 3}, zeros, 0},
		{"short distortion", identity, []float64{0, 0}, 0},
		{"nan distortion", identity, []float64{math.NaN(), 0, 0, 0, 0}, 0},
		{"negative focal", []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}, zeros, 0},
		{"m22 not one", []float64{1, 0, 0, 0, 1, 0, 0, 0, 2}, zeros, 0},
		{"negative projection error", identity, zeros, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tc.matrix, tc.dist, tc.projErr, false)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryCalibration))
		})
	}
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	d, err := FromSettings(nil)
	require.NoError(t, err)
	assert.False(t, d.Calibrated())

	d, err = FromSettings(&conf.CalibrationSettings{
		CameraMatrix: []float64{600, 0, 300, 0, 600, 200, 0, 0, 1},
		Distortion:   make([]float64, 5),
		Calibrated:   true,
	})
	require.NoError(t, err)
	assert.True(t, d.Calibrated())
}

func TestProject(t *testing.T) {
	t.Parallel()

	d, err := New([]float64{500, 0, 320, 0, 500, 240, 0, 0, 1}, make([]float64, 5), 0, true)
	require.NoError(t, err)

	u, v, ok := d.Project(0.1, -0.1, 1)
	require.True(t, ok)
	assert.InDelta(t, 370, u, 1e-9)
	assert.InDelta(t, 190, v, 1e-9)

	_, _, ok = d.Project(0, 0, 0)
	assert.False(t, ok)
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	d := Identity()
	r, c := d.CameraMatrix().Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.Len(t, d.DistortionCoefficients(), 5)
}
