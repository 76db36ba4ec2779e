// Package focus follows the aggregate marker events to decide when the camera
// rig should be repositioned and which visible marker is closest.
package focus

import (
	"math"
	"slices"
	"sync"

	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/marker"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the focus package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("focus")
	})
	return serviceLogger
}

// PoseLookup returns the latest pose of a marker
type PoseLookup interface {
	Pose(id int) (marker.Pose, bool)
}

// PoseLookupFunc adapts a function to PoseLookup
type PoseLookupFunc func(id int) (marker.Pose, bool)

// Pose calls f
func (f PoseLookupFunc) Pose(id int) (marker.Pose, bool) {
	return f(id)
}

type poser interface {
	Pose() (marker.Pose, bool)
}

// RegistryPoses looks poses up on registry handles that expose one, such as
// *marker.Marker
func RegistryPoses(reg marker.Registry) PoseLookup {
	return PoseLookupFunc(func(id int) (marker.Pose, bool) {
		h, ok := reg.Get(id)
		if !ok {
			return marker.Pose{}, false
		}
		p, ok := h.(poser)
		if !ok {
			return marker.Pose{}, false
		}
		return p.Pose()
	})
}

// Target is the marker the camera should focus on
type Target struct {
	ID       int         `json:"id"`
	Pose     marker.Pose `json:"pose"`
	Distance float64     `json:"distance"`
}

// CameraTracker keeps the visible set from the bus. The reposition flag is
// raised by every detected event and cleared by a lost event that actually
// names markers; the empty lost event published every cycle leaves it alone.
//
// Detected events carry unregistered ids too, but lost events only ever name
// registered ones, so only ids accepted by include enter the visible set.
type CameraTracker struct {
	poses   PoseLookup
	include func(id int) bool
	logger  logger.Logger

	mu         sync.RWMutex
	visible    map[int]struct{}
	reposition bool
	sub        *events.Subscription
}

// NewCameraTracker creates a tracker resolving poses through poses. A nil
// include accepts every id.
func NewCameraTracker(poses PoseLookup, include func(id int) bool) *CameraTracker {
	if include == nil {
		include = func(int) bool { return true }
	}
	return &CameraTracker{
		poses:   poses,
		include: include,
		logger:  GetLogger(),
		visible: make(map[int]struct{}),
	}
}

// Attach subscribes to bus. Close releases the subscription.
func (t *CameraTracker) Attach(bus *events.Bus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		t.sub.Unsubscribe()
	}
	t.sub = bus.Subscribe(t.Handle)
}

// Close unsubscribes from the bus
func (t *CameraTracker) Close() error {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	return nil
}

// Handle applies one aggregate event
func (t *CameraTracker) Handle(ev events.MarkerEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case events.KindDetected:
		for _, id := range ev.IDs {
			if t.include(id) {
				t.visible[id] = struct{}{}
			}
		}
		if !t.reposition {
			t.logger.Debug("markers detected, camera reposition needed", logger.Ints("ids", ev.IDs))
		}
		t.reposition = true
	case events.KindLost:
		if len(ev.IDs) == 0 {
			return
		}
		for _, id := range ev.IDs {
			delete(t.visible, id)
		}
		t.reposition = false
	}
}

// RepositionNeeded reports whether markers were detected since the last loss
func (t *CameraTracker) RepositionNeeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reposition
}

// Visible returns the ids seen in detected events and not lost since, sorted
func (t *CameraTracker) Visible() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int, 0, len(t.visible))
	for id := range t.visible {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Closest returns the visible marker with the smallest translation norm.
// Markers without a pose are skipped; ties go to the lower id.
func (t *CameraTracker) Closest() (Target, bool) {
	best := Target{Distance: math.Inf(1)}
	found := false

	for _, id := range t.Visible() {
		pose, ok := t.poses.Pose(id)
		if !ok {
			continue
		}
		if d := pose.Distance(); d < best.Distance {
			best = Target{ID: id, Pose: pose, Distance: d}
			found = true
		}
	}
	return best, found
}
