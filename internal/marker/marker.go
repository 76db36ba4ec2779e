// Package marker defines fiducial marker identities, their lifecycle handles and the
// registry the tracker resolves detected ids against.
package marker

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ID is a marker identifier from the detection dictionary
type ID = int

// Point2f is an image-plane point in pixels
type Point2f struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Quad is the four corners of one detected marker, clockwise from top-left
type Quad [4]Point2f

// Center returns the mean of the four corners
func (q Quad) Center() Point2f {
	var x, y float32
	for _, p := range q {
		x += p.X
		y += p.Y
	}
	return Point2f{X: x / 4, Y: y / 4}
}

// Perimeter returns the sum of the edge lengths in pixels
func (q Quad) Perimeter() float64 {
	var total float64
	for i := range q {
		a, b := q[i], q[(i+1)%len(q)]
		total += math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	return total
}

// Pose is a marker pose relative to the camera: Rodrigues rotation vector and translation
type Pose struct {
	Rotation    [3]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// Distance returns the Euclidean norm of the translation
func (p Pose) Distance() float64 {
	return floats.Norm(p.Translation[:], 2)
}

// Handle is the capability surface the tracker drives for a registered marker.
// Handles are owned by the registry; the tracker only references them.
type Handle interface {
	OnDetected()
	OnLost()
	UpdatePose(corners Quad, cameraMatrix *mat.Dense, distortion []float64, gray *image.Gray)
}

// Registry resolves marker ids to handles
type Registry interface {
	IsRegistered(id ID) bool
	Get(id ID) (Handle, bool)
}

// PoseEstimator computes a 6-DoF pose from corner points
type PoseEstimator interface {
	EstimatePose(corners Quad, cameraMatrix *mat.Dense, distortion []float64, gray *image.Gray) (Pose, error)
}

// PoseEstimatorFunc adapts a function to PoseEstimator
type PoseEstimatorFunc func(corners Quad, cameraMatrix *mat.Dense, distortion []float64, gray *image.Gray) (Pose, error)

// EstimatePose calls f
func (f PoseEstimatorFunc) EstimatePose(corners Quad, cameraMatrix *mat.Dense, distortion []float64, gray *image.Gray) (Pose, error) {
	return f(corners, cameraMatrix, distortion, gray)
}
