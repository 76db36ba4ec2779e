// Package calibration holds camera intrinsics: the 3x3 camera matrix and the five
// lens distortion coefficients handed to every pose refresh.
package calibration

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
)

const (
	matrixRows       = 3
	matrixCols       = 3
	distortionCoeffs = 5
)

// Data is an immutable set of camera intrinsics
type Data struct {
	matrix          *mat.Dense
	distortion      []float64
	projectionError float64
	calibrated      bool
}

// Identity returns uncalibrated intrinsics: identity camera matrix, zero distortion
func Identity() *Data {
	m := mat.NewDense(matrixRows, matrixCols, nil)
	for i := range matrixRows {
		m.Set(i, i, 1)
	}
	return &Data{
		matrix:     m,
		distortion: make([]float64, distortionCoeffs),
	}
}

// New builds calibration data from a row-major camera matrix (m00..m22) and the
// distortion coefficients k1, k2, p1, p2, k3.
func New(cameraMatrix, distortion []float64, projectionError float64, calibrated bool) (*Data, error) {
	d := &Data{
		distortion:      slices.Clone(distortion),
		projectionError: projectionError,
		calibrated:      calibrated,
	}

	if len(cameraMatrix) == matrixRows*matrixCols {
		d.matrix = mat.NewDense(matrixRows, matrixCols, slices.Clone(cameraMatrix))
	}

	if err := d.validate(len(cameraMatrix)); err != nil {
		return nil, err
	}

	return d, nil
}

// FromSettings builds calibration data from the calibration config section
func FromSettings(s *conf.CalibrationSettings) (*Data, error) {
	if s == nil {
		return Identity(), nil
	}
	return New(s.CameraMatrix, s.Distortion, s.ProjectionError, s.Calibrated)
}

func (d *Data) validate(matrixLen int) error {
	var problems []string

	if matrixLen != matrixRows*matrixCols {
		problems = append(problems, fmt.Sprintf("camera matrix needs %d values, got %d", matrixRows*matrixCols, matrixLen))
	}
	if len(d.distortion) != distortionCoeffs {
		problems = append(problems, fmt.Sprintf("distortion needs %d coefficients, got %d", distortionCoeffs, len(d.distortion)))
	}
	for _, v := range d.distortion {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, "distortion coefficients must be finite")
			break
		}
	}
	if d.projectionError < 0 {
		problems = append(problems, "projection error must not be negative")
	}

	if d.matrix != nil {
		if d.matrix.At(0, 0) <= 0 || d.matrix.At(1, 1) <= 0 {
			problems = append(problems, "focal lengths fx and fy must be positive")
		}
		if d.matrix.At(2, 2) != 1 {
			problems = append(problems, "camera matrix m22 must be 1")
		}
		if d.calibrated && mat.Det(d.matrix) == 0 {
			problems = append(problems, "camera matrix is singular")
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.Newf("invalid calibration: %v", problems).
		Component("calibration").
		Category(errors.CategoryCalibration).
		Build()
}

// CameraMatrix returns a copy of the 3x3 camera matrix
func (d *Data) CameraMatrix() *mat.Dense {
	return mat.DenseCopyOf(d.matrix)
}

// DistortionCoefficients returns a copy of the distortion coefficients
func (d *Data) DistortionCoefficients() []float64 {
	return slices.Clone(d.distortion)
}

// ProjectionError returns the RMS reprojection error of the calibration run
func (d *Data) ProjectionError() float64 {
	return d.projectionError
}

// Calibrated reports whether the intrinsics came from a calibration run
func (d *Data) Calibrated() bool {
	return d.calibrated
}

// FocalLength returns fx and fy in pixels
func (d *Data) FocalLength() (fx, fy float64) {
	return d.matrix.At(0, 0), d.matrix.At(1, 1)
}

// PrincipalPoint returns cx and cy in pixels
func (d *Data) PrincipalPoint() (cx, cy float64) {
	return d.matrix.At(0, 2), d.matrix.At(1, 2)
}

// Project maps a camera-space point to pixel coordinates, ignoring distortion
func (d *Data) Project(x, y, z float64) (u, v float64, ok bool) {
	if z <= 0 {
		return 0, 0, false
	}

	var out mat.VecDense
	out.MulVec(d.matrix, mat.NewVecDense(3, []float64{x / z, y / z, 1}))
	return out.AtVec(0), out.AtVec(1), true
}
