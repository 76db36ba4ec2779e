package marker

import (
	"image"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/markertrack/markertrack/internal/logger"
)

// Listener is notified with the marker id on a lifecycle transition
type Listener func(id ID)

// PoseListener is notified after every pose refresh
type PoseListener func(id ID, corners Quad, pose Pose, hasPose bool)

// Marker is the reference Handle implementation. It tracks visibility and the latest
// corners and pose, and fans transitions out to listeners, which is how renderers
// show, hide and place content on a marker.
type Marker struct {
	id        ID
	estimator PoseEstimator

	mu         sync.RWMutex
	visible    bool
	corners    Quad
	pose       Pose
	hasPose    bool
	lastSeen   time.Time
	detections uint64

	onDetected []Listener
	onLost     []Listener
	onPose     []PoseListener
}

// Option configures a Marker
type Option func(*Marker)

// WithPoseEstimator sets the estimator invoked on every pose refresh
func WithPoseEstimator(estimator PoseEstimator) Option {
	return func(m *Marker) {
		m.estimator = estimator
	}
}

// New creates a marker handle for id
func New(id ID, opts ...Option) *Marker {
	m := &Marker{id: id}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the marker id
func (m *Marker) ID() ID {
	return m.id
}

// AddDetectedListener registers fn to run when the marker becomes visible
func (m *Marker) AddDetectedListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetected = append(m.onDetected, fn)
}

// AddLostListener registers fn to run when the marker is lost
func (m *Marker) AddLostListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = append(m.onLost, fn)
}

// AddPoseListener registers fn to run after each pose refresh
func (m *Marker) AddPoseListener(fn PoseListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPose = append(m.onPose, fn)
}

// OnDetected marks the marker visible and notifies detected listeners
func (m *Marker) OnDetected() {
	m.mu.Lock()
	m.visible = true
	m.detections++
	m.lastSeen = time.Now()
	listeners := slices.Clone(m.onDetected)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.id)
	}
}

// OnLost marks the marker hidden and notifies lost listeners
func (m *Marker) OnLost() {
	m.mu.Lock()
	m.visible = false
	listeners := slices.Clone(m.onLost)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.id)
	}
}

// UpdatePose stores the latest corners and, when an estimator is configured, the pose
func (m *Marker) UpdatePose(corners Quad, cameraMatrix *mat.Dense, distortion []float64, gray *image.Gray) {
	var (
		pose    Pose
		hasPose bool
	)

	if m.estimator != nil {
		p, err := m.estimator.EstimatePose(corners, cameraMatrix, distortion, gray)
		if err != nil {
			GetLogger().Debug("pose estimation failed",
				logger.Int("marker_id", m.id),
				logger.Error(err))
		} else {
			pose, hasPose = p, true
		}
	}

	m.mu.Lock()
	m.corners = corners
	m.lastSeen = time.Now()
	if hasPose {
		m.pose = pose
		m.hasPose = true
	}
	pose, hasPose = m.pose, m.hasPose
	listeners := slices.Clone(m.onPose)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.id, corners, pose, hasPose)
	}
}

// Visible reports whether the marker is currently tracked
func (m *Marker) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible
}

// Corners returns the most recent corner quad
func (m *Marker) Corners() Quad {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.corners
}

// Pose returns the most recent pose and whether one was ever estimated
func (m *Marker) Pose() (Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pose, m.hasPose
}

// Snapshot is a point-in-time copy of a marker's state
type Snapshot struct {
	ID         ID        `json:"id"`
	Visible    bool      `json:"visible"`
	Corners    Quad      `json:"corners"`
	Pose       *Pose     `json:"pose,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
	Detections uint64    `json:"detections"`
}

// Snapshot returns a copy of the marker state
func (m *Marker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		ID:         m.id,
		Visible:    m.visible,
		Corners:    m.corners,
		LastSeen:   m.lastSeen,
		Detections: m.detections,
	}
	if m.hasPose {
		pose := m.pose
		s.Pose = &pose
	}
	return s
}
