// Package tracking turns per-frame detection results into marker lifecycle
// callbacks and aggregate bus events.
package tracking

import (
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/markertrack/markertrack/internal/calibration"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/marker"
	"github.com/markertrack/markertrack/internal/observability/metrics"
)

const (
	callbackDetected = "on_detected"
	callbackLost     = "on_lost"
	callbackPose     = "update_pose"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the tracking package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("tracking")
	})
	return serviceLogger
}

// markerGauges is implemented by recorders that also track lifecycle gauges,
// such as metrics.PipelineMetrics.
type markerGauges interface {
	RecordMarkerEvents(kind string, n int)
	SetActiveMarkers(n int)
}

// Outcome summarizes one reconciliation pass
type Outcome struct {
	Lost           []int // ids that left the active set, sorted
	Detected       []int // ids newly inserted into the active set, in frame order
	Refreshed      int   // pose refreshes issued
	Published      bool  // whether MarkersDetected was published
	CallbackPanics int
}

// Stats contains tracker counters
type Stats struct {
	Cycles         uint64 `json:"cycles"`
	Active         int    `json:"active"`
	CallbackPanics uint64 `json:"callback_panics"`
}

// Tracker owns the active marker set. Reconcile must not be called
// concurrently with itself; the detection stage is its only caller.
type Tracker struct {
	registry  marker.Registry
	publisher events.Publisher
	recorder  metrics.Recorder
	logger    logger.Logger
	sessionID string

	cameraMatrix *mat.Dense
	distortion   []float64

	active map[int]marker.Handle

	// read by Stats and Active from other goroutines
	mu             sync.RWMutex
	cycles         atomic.Uint64
	callbackPanics atomic.Uint64
}

// Option configures a Tracker
type Option func(*Tracker)

// WithCalibration sets the intrinsics handed to every pose refresh
func WithCalibration(c *calibration.Data) Option {
	return func(t *Tracker) {
		if c != nil {
			t.cameraMatrix = c.CameraMatrix()
			t.distortion = c.DistortionCoefficients()
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(t *Tracker) {
		if r != nil {
			t.recorder = r
		}
	}
}

// WithSessionID stamps published events with id
func WithSessionID(id string) Option {
	return func(t *Tracker) {
		t.sessionID = id
	}
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a tracker. A nil publisher means the process-wide bus.
func New(registry marker.Registry, publisher events.Publisher, opts ...Option) *Tracker {
	if publisher == nil {
		publisher = events.Default()
	}

	identity := calibration.Identity()
	t := &Tracker{
		registry:     registry,
		publisher:    publisher,
		recorder:     metrics.NopRecorder{},
		logger:       GetLogger(),
		cameraMatrix: identity.CameraMatrix(),
		distortion:   identity.DistortionCoefficients(),
		active:       make(map[int]marker.Handle),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetSessionID changes the session stamped on events. Call it only while no
// Reconcile is running.
func (t *Tracker) SetSessionID(id string) {
	t.sessionID = id
}

// Reconcile applies one frame's detection result. corners[i] belongs to
// ids[i]; gray is handed to pose refreshes and must stay untouched until
// Reconcile returns. An empty ids means every active marker is lost.
func (t *Tracker) Reconcile(ids []int, corners []marker.Quad, gray *image.Gray) Outcome {
	cycle := t.cycles.Add(1)
	var out Outcome

	inFrame := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		inFrame[id] = struct{}{}
	}

	// lost: active ids absent from the frame
	t.mu.Lock()
	for id := range t.active {
		if _, ok := inFrame[id]; !ok {
			out.Lost = append(out.Lost, id)
		}
	}
	slices.Sort(out.Lost)

	lostHandles := make([]marker.Handle, len(out.Lost))
	for i, id := range out.Lost {
		lostHandles[i] = t.active[id]
		delete(t.active, id)
	}
	t.mu.Unlock()

	for i, id := range out.Lost {
		h := lostHandles[i]
		if !t.safeCall(id, callbackLost, h.OnLost) {
			out.CallbackPanics++
		}
	}

	t.publisher.Publish(events.MarkerEvent{
		Kind:      events.KindLost,
		IDs:       out.Lost,
		SessionID: t.sessionID,
		Cycle:     cycle,
	})

	// newly detected registered ids
	anyRegistered := false
	for _, id := range ids {
		if !t.registry.IsRegistered(id) {
			continue
		}
		anyRegistered = true

		if t.isActive(id) {
			continue
		}
		h, ok := t.registry.Get(id)
		if !ok || h == nil {
			continue
		}

		// inserted even when OnDetected panics so the handle is never detected twice
		t.mu.Lock()
		t.active[id] = h
		t.mu.Unlock()

		out.Detected = append(out.Detected, id)
		if !t.safeCall(id, callbackDetected, h.OnDetected) {
			out.CallbackPanics++
		}
	}

	// pose refresh for every frame id that is active, once per id
	refreshed := make(map[int]struct{}, len(inFrame))
	for i, id := range ids {
		if _, done := refreshed[id]; done {
			continue
		}
		refreshed[id] = struct{}{}

		h, ok := t.handle(id)
		if !ok {
			continue
		}
		if i >= len(corners) {
			t.logger.Debug("no corners for detected marker",
				logger.Int("marker_id", id),
				logger.Uint64("cycle", cycle))
			continue
		}

		quad := corners[i]
		if !t.safeCall(id, callbackPose, func() {
			h.UpdatePose(quad, t.cameraMatrix, t.distortion, gray)
		}) {
			out.CallbackPanics++
		}
		out.Refreshed++
	}

	if len(ids) > 0 && anyRegistered {
		t.publisher.Publish(events.MarkerEvent{
			Kind:      events.KindDetected,
			IDs:       ids,
			SessionID: t.sessionID,
			Cycle:     cycle,
		})
		out.Published = true
	}

	t.record(cycle, &out)
	return out
}

func (t *Tracker) record(cycle uint64, out *Outcome) {
	status := metrics.StatusSuccess
	if out.CallbackPanics > 0 {
		status = metrics.StatusPanic
	}
	t.recorder.RecordOperation(metrics.OpReconcile, status)

	active := t.Len()
	if g, ok := t.recorder.(markerGauges); ok {
		g.RecordMarkerEvents("detected", len(out.Detected))
		g.RecordMarkerEvents("lost", len(out.Lost))
		g.SetActiveMarkers(active)
	}

	if len(out.Detected) > 0 || len(out.Lost) > 0 {
		t.logger.Debug("marker set changed",
			logger.Uint64("cycle", cycle),
			logger.Ints("detected", out.Detected),
			logger.Ints("lost", out.Lost),
			logger.Int("active", active))
	}
}

// safeCall runs a handle callback, converting a panic into a logged,
// reported error. It returns false when fn panicked.
func (t *Tracker) safeCall(id int, callback string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			t.callbackPanics.Add(1)

			err := errors.Newf("marker %d %s panicked: %v", id, callback, r).
				Component("tracking").
				Category(errors.CategoryMarkerCallback).
				MarkerContext(id).
				Context("callback", callback).
				Build()

			t.logger.Error("marker callback panicked",
				logger.Int("marker_id", id),
				logger.String("callback", callback),
				logger.Error(err))
			t.recorder.RecordError(metrics.OpMarkerCallback, string(errors.CategoryMarkerCallback))
		}
	}()

	fn()
	return true
}

func (t *Tracker) isActive(id int) bool {
	_, ok := t.handle(id)
	return ok
}

func (t *Tracker) handle(id int) (marker.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.active[id]
	return h, ok
}

// Active returns the active marker ids, sorted
func (t *Tracker) Active() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the size of the active set
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Stats returns tracker counters
func (t *Tracker) Stats() Stats {
	return Stats{
		Cycles:         t.cycles.Load(),
		Active:         t.Len(),
		CallbackPanics: t.callbackPanics.Load(),
	}
}

// String implements fmt.Stringer
func (t *Tracker) String() string {
	return fmt.Sprintf("tracker(active=%v)", t.Active())
}
