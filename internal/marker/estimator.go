package marker

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PinholeEstimator approximates a pose from the apparent marker size under a
// pinhole camera model. It ignores lens distortion and out-of-plane rotation, which
// is enough to rank markers by distance without a full PnP solver.
type PinholeEstimator struct {
	// SideLength is the printed marker edge length in world units
	SideLength float64
}

// EstimatePose implements PoseEstimator
func (e PinholeEstimator) EstimatePose(corners Quad, cameraMatrix *mat.Dense, _ []float64, _ *image.Gray) (Pose, error) {
	if cameraMatrix == nil {
		return Pose{}, fmt.Errorf("camera matrix is required")
	}
	if r, c := cameraMatrix.Dims(); r != 3 || c != 3 {
		return Pose{}, fmt.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if e.SideLength <= 0 {
		return Pose{}, fmt.Errorf("side length must be positive")
	}

	fx, fy := cameraMatrix.At(0, 0), cameraMatrix.At(1, 1)
	cx, cy := cameraMatrix.At(0, 2), cameraMatrix.At(1, 2)
	if fx <= 0 || fy <= 0 {
		return Pose{}, fmt.Errorf("focal lengths must be positive")
	}

	side := corners.Perimeter() / 4
	if side < 1e-6 {
		return Pose{}, fmt.Errorf("degenerate corner quad")
	}

	z := fx * e.SideLength / side
	center := corners.Center()
	x := (float64(center.X) - cx) * z / fx
	y := (float64(center.Y) - cy) * z / fy

	top := corners[1]
	origin := corners[0]
	roll := math.Atan2(float64(top.Y-origin.Y), float64(top.X-origin.X))

	return Pose{
		Rotation:    [3]float64{0, 0, roll},
		Translation: [3]float64{x, y, z},
	}, nil
}
