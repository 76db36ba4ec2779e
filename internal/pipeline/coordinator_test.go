package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/marker"
	"github.com/markertrack/markertrack/internal/observability/metrics"
	"github.com/markertrack/markertrack/internal/testutil"
	"github.com/markertrack/markertrack/internal/tracking"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	bus     *events.Bus
	mgr     *marker.Manager
	markers map[marker.ID]*marker.Marker
	tracker *tracking.Tracker
	rec     *metrics.TestRecorder
}

func newFixture(t *testing.T, ids ...int) *fixture {
	t.Helper()

	f := &fixture{
		bus: events.NewBus(),
		mgr: marker.NewManager(),
		rec: metrics.NewTestRecorder(),
	}
	markers, err := f.mgr.RegisterMarkers(ids)
	require.NoError(t, err)
	f.markers = markers
	f.tracker = tracking.New(f.mgr, f.bus, tracking.WithRecorder(f.rec))
	return f
}

// start runs a coordinator and stops it when the test ends
func (f *fixture) start(t *testing.T, engine detector.Engine, cfg Config, opts ...Option) *Coordinator {
	t.Helper()

	opts = append([]Option{WithRecorder(f.rec)}, opts...)
	c := New(engine, f.tracker, cfg, opts...)
	require.NoError(t, c.Start(t.Context()))
	t.Cleanup(func() {
		assert.NoError(t, c.Stop(testutil.DefaultTestTimeout))
	})
	return c
}

func newFrame(w, h int, fill color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = fill.R
		img.Pix[i+1] = fill.G
		img.Pix[i+2] = fill.B
		img.Pix[i+3] = fill.A
	}
	return img
}

func quadAt(x, y float32) marker.Quad {
	return marker.Quad{{X: x, Y: y}, {X: x + 10, Y: y}, {X: x + 10, Y: y + 10}, {X: x, Y: y + 10}}
}

// fixedEngine reports the same markers on every call
func fixedEngine(ids ...int) detector.Engine {
	return detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		res := detector.Result{IDs: append([]int(nil), ids...)}
		for i := range ids {
			res.Corners = append(res.Corners, quadAt(float32(10*i), 0))
		}
		return res, nil
	})
}

func waitCycles(t *testing.T, c *Coordinator, n uint64) {
	t.Helper()
	testutil.Eventually(t, func() bool {
		return c.Stats().Cycles >= n && c.Stage() == StageIdle
	}, testutil.DefaultTestTimeout, fmt.Sprintf("pipeline did not complete %d cycles", n))
}

func TestCoordinatorCycleDrivesTracker(t *testing.T) {
	f := newFixture(t, 10)
	detected := make(chan events.MarkerEvent, 4)
	f.bus.Subscribe(func(ev events.MarkerEvent) {
		if ev.Kind == events.KindDetected {
			detected <- ev
		}
	})

	c := f.start(t, fixedEngine(10), DefaultConfig())
	require.True(t, c.SubmitFrame(newFrame(16, 12, color.RGBA{R: 200, A: 255})))

	ev := testutil.ReceiveWithin(t, detected, testutil.DefaultTestTimeout)
	assert.Equal(t, []int{10}, ev.IDs)
	assert.Equal(t, c.SessionID(), ev.SessionID)
	assert.NotEmpty(t, c.SessionID())

	waitCycles(t, c, 1)
	assert.True(t, f.markers[10].Visible())
	assert.Equal(t, []int{10}, f.tracker.Active())

	stats := c.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, 1, stats.ActiveMarkers)
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpCycle, metrics.StatusSuccess))
	assert.Len(t, f.rec.GetDurations(metrics.OpGrayscale), 1)
}

func TestStageGateMutualExclusion(t *testing.T) {
	f := newFixture(t, 1)
	probe := newFrame(4, 4, color.RGBA{A: 255})

	var (
		c          *Coordinator
		violations atomic.Int32
		accepted   atomic.Int32
	)
	conv := ConverterFunc(func(dst *image.Gray, src image.Image) error {
		if c.Stage() != StageCaptured {
			violations.Add(1)
		}
		if c.SubmitFrame(probe) {
			accepted.Add(1)
		}
		return LuminanceConverter{}.Convert(dst, src)
	})
	engine := detector.FuncEngine(func(_ context.Context, gray *image.Gray, _ detector.Dictionary, _ detector.Parameters) (detector.Result, error) {
		if c.Stage() != StageGrayscaled {
			violations.Add(1)
		}
		if c.SubmitFrame(probe) {
			accepted.Add(1)
		}
		return detector.Result{IDs: []int{1}, Corners: []marker.Quad{quadAt(0, 0)}}, nil
	})

	c = New(engine, f.tracker, DefaultConfig(), WithConverter(conv), WithRecorder(f.rec))
	require.NoError(t, c.Start(t.Context()))
	defer func() { require.NoError(t, c.Stop(testutil.DefaultTestTimeout)) }()

	const rounds = 20
	for i := 1; i <= rounds; i++ {
		require.True(t, c.SubmitFrame(newFrame(8, 8, color.RGBA{G: uint8(i), A: 255})))
		waitCycles(t, c, uint64(i))
	}

	assert.Zero(t, violations.Load(), "a stage ran while the gate held another value")
	assert.Zero(t, accepted.Load(), "a frame was accepted while a worker owned the buffers")

	stats := c.Stats()
	assert.Equal(t, uint64(rounds), stats.Accepted)
	assert.Equal(t, uint64(2*rounds), stats.Dropped)
	assert.Equal(t, uint64(3*rounds), stats.Submitted)
}

func TestSubmitFrameDropsWhileBusy(t *testing.T) {
	f := newFixture(t)
	gate := testutil.NewGate()
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		gate.Wait()
		return detector.Result{}, nil
	})
	c := f.start(t, engine, DefaultConfig())

	red := color.RGBA{R: 200, A: 255}
	require.True(t, c.SubmitFrame(newFrame(4, 4, red)))
	testutil.WaitForChannel(t, gate.Entered(), testutil.DefaultTestTimeout, "detection never started")

	assert.Equal(t, StageGrayscaled, c.Stage())
	assert.False(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{G: 200, A: 255})))
	assert.False(t, c.SubmitFrame(newFrame(6, 6, color.RGBA{B: 200, A: 255})))
	assert.Equal(t, uint64(2), c.Stats().Dropped)
	assert.Equal(t, 2, f.rec.GetOperationCount(metrics.OpCapture, metrics.StatusDropped))

	gate.Open()
	waitCycles(t, c, 1)

	// dropped frames never touched the working buffer
	out, ok := c.TakeOutput()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	for y := range 4 {
		for x := range 4 {
			require.Equal(t, red, out.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 2)
}

func TestSubmitFrameRejectsInvalidFrames(t *testing.T) {
	f := newFixture(t)
	c := New(fixedEngine(), f.tracker, DefaultConfig())

	// stopped
	assert.False(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))

	require.NoError(t, c.Start(t.Context()))
	defer func() { require.NoError(t, c.Stop(testutil.DefaultTestTimeout)) }()

	assert.False(t, c.SubmitFrame(nil))
	assert.False(t, c.SubmitFrame(image.NewRGBA(image.Rect(0, 0, 0, 0))))

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Zero(t, stats.Accepted)
}

func TestStopTimeoutKeepsBuffersUntilWorkersExit(t *testing.T) {
	f := newFixture(t)
	gate := testutil.NewGate()
	// ignores ctx, like a native call that cannot be interrupted
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		gate.Wait()
		return detector.Result{}, nil
	})

	c := New(engine, f.tracker, DefaultConfig())
	require.NoError(t, c.Start(t.Context()))
	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	testutil.WaitForChannel(t, gate.Entered(), testutil.DefaultTestTimeout, "detection never started")

	err := c.Stop(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.False(t, c.buffersReleased.Load())
	assert.NotNil(t, c.working)
	assert.False(t, c.Running())

	assert.Error(t, c.Start(t.Context()), "restart must wait for the previous run to stop")
	assert.Error(t, c.Reconfigure(DefaultConfig()))

	gate.Open()
	require.NoError(t, c.Stop(testutil.DefaultTestTimeout))
	assert.True(t, c.buffersReleased.Load())
	assert.Nil(t, c.working)
	assert.Nil(t, c.gray)

	// stopped pipelines stay stopped
	require.NoError(t, c.Stop(testutil.ShortTestTimeout))
	assert.False(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
}

func TestTimedOutStopRejectsLateFramesAndEvents(t *testing.T) {
	f := newFixture(t, 1)
	gate := testutil.NewGate()
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		gate.Wait()
		return detector.Result{IDs: []int{1}, Corners: []marker.Quad{quadAt(0, 0)}}, nil
	})

	var published atomic.Int32
	f.bus.Subscribe(func(events.MarkerEvent) { published.Add(1) })

	c := New(engine, f.tracker, DefaultConfig(), WithRecorder(f.rec))
	require.NoError(t, c.Start(t.Context()))
	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	testutil.WaitForChannel(t, gate.Entered(), testutil.DefaultTestTimeout, "detection never started")

	require.ErrorIs(t, c.Stop(50*time.Millisecond), ErrStopTimeout)

	// the hung call returns after Stop gave up waiting
	gate.Open()
	testutil.Eventually(t, func() bool {
		return c.Stage() == StageIdle
	}, testutil.DefaultTestTimeout, "detection worker never released the gate")

	assert.False(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	assert.Equal(t, StageIdle, c.Stage())
	assert.Zero(t, published.Load(), "events published after Stop")
	assert.Empty(t, f.tracker.Active())
	assert.False(t, f.markers[1].Visible())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Zero(t, stats.Cycles)
	_, fresh := c.TakeOutput()
	assert.False(t, fresh)

	require.NoError(t, c.Stop(testutil.DefaultTestTimeout))
	assert.True(t, c.buffersReleased.Load())
}

func TestDetectTimeoutHandsBufferToAbandonedCall(t *testing.T) {
	f := newFixture(t)
	gate := testutil.NewGate()
	defer gate.Open()

	var calls atomic.Int32
	seen := make(chan *image.Gray, 4)
	engine := detector.FuncEngine(func(_ context.Context, gray *image.Gray, _ detector.Dictionary, _ detector.Parameters) (detector.Result, error) {
		seen <- gray
		if calls.Add(1) == 1 {
			gate.Wait()
		}
		return detector.Result{}, nil
	})

	cfg := DefaultConfig()
	cfg.DetectTimeout = 20 * time.Millisecond
	c := f.start(t, engine, cfg)

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	first := testutil.ReceiveWithin(t, seen, testutil.DefaultTestTimeout)
	waitCycles(t, c, 1)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.DetectTimeouts)
	assert.Equal(t, uint64(1), stats.DetectionFailures)
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpDetect, metrics.StatusTimeout))

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	second := testutil.ReceiveWithin(t, seen, testutil.DefaultTestTimeout)
	waitCycles(t, c, 2)

	assert.NotSame(t, first, second, "the abandoned call still owns its buffer")
	assert.Equal(t, uint64(1), c.Stats().DetectTimeouts)
}

func TestDetectionErrorLosesActiveMarkers(t *testing.T) {
	f := newFixture(t, 10)
	lost := make(chan []int, 4)
	f.bus.SubscribeLost(func(ids []int) {
		if len(ids) > 0 {
			lost <- ids
		}
	})

	var calls atomic.Int32
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		if calls.Add(1) == 1 {
			return detector.Result{IDs: []int{10}, Corners: []marker.Quad{quadAt(0, 0)}}, nil
		}
		return detector.Result{}, fmt.Errorf("engine failure")
	})
	c := f.start(t, engine, DefaultConfig())

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 1)
	require.True(t, f.markers[10].Visible())

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 2)

	assert.Equal(t, []int{10}, testutil.ReceiveWithin(t, lost, testutil.DefaultTestTimeout))
	assert.False(t, f.markers[10].Visible())
	assert.Zero(t, f.tracker.Len())
	assert.Equal(t, uint64(1), c.Stats().DetectionFailures)
	assert.Equal(t, 1, f.rec.GetErrorCount(metrics.OpDetect, string(errors.CategoryDetection)))
}

func TestConversionFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	conv := ConverterFunc(func(dst *image.Gray, src image.Image) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("unsupported pixel format")
		}
		return LuminanceConverter{}.Convert(dst, src)
	})
	c := f.start(t, fixedEngine(), DefaultConfig(), WithConverter(conv))

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	testutil.Eventually(t, func() bool {
		return c.Stats().ConversionFailures == 1 && c.Stage() == StageIdle
	}, testutil.DefaultTestTimeout, "conversion failure did not reset the gate")
	assert.Zero(t, c.Stats().Cycles)

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 1)
	assert.Equal(t, 1, f.rec.GetOperationCount(metrics.OpGrayscale, metrics.StatusError))
}

func TestStagePanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		if calls.Add(1) == 1 {
			panic("native detector crashed")
		}
		return detector.Result{}, nil
	})
	c := f.start(t, engine, DefaultConfig())

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	testutil.Eventually(t, func() bool {
		return c.Stats().StagePanics == 1 && c.Stage() == StageIdle
	}, testutil.DefaultTestTimeout, "stage panic did not reset the gate")
	assert.Equal(t, 1, f.rec.GetOperationCount(stageNameDetect, metrics.StatusPanic))

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 1)
}

func TestEnginePanicWithTimeoutIsDetectionFailure(t *testing.T) {
	f := newFixture(t)
	engine := detector.FuncEngine(func(context.Context, *image.Gray, detector.Dictionary, detector.Parameters) (detector.Result, error) {
		panic("boom")
	})
	cfg := DefaultConfig()
	cfg.DetectTimeout = time.Second
	c := f.start(t, engine, cfg)

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 1)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.DetectionFailures)
	assert.Zero(t, stats.StagePanics)
	assert.Zero(t, stats.DetectTimeouts)
}

func TestThrowMarkerCallbacksDisabled(t *testing.T) {
	f := newFixture(t, 10)
	published := make(chan events.MarkerEvent, 4)
	f.bus.Subscribe(func(ev events.MarkerEvent) { published <- ev })

	cfg := DefaultConfig()
	cfg.ThrowMarkerCallbacks = false
	c := f.start(t, fixedEngine(10), cfg)

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{A: 255})))
	waitCycles(t, c, 1)

	testutil.Never(t, published, 50*time.Millisecond, "no events without reconciliation")
	assert.False(t, f.markers[10].Visible())
	assert.Zero(t, f.tracker.Len())

	_, ok := c.TakeOutput()
	assert.True(t, ok, "frames still cycle to the output")
}

func TestTakeOutputOncePerCycle(t *testing.T) {
	f := newFixture(t)
	c := f.start(t, fixedEngine(), DefaultConfig())

	_, ok := c.TakeOutput()
	assert.False(t, ok)

	require.True(t, c.SubmitFrame(newFrame(4, 4, color.RGBA{R: 9, G: 8, B: 7, A: 255})))
	waitCycles(t, c, 1)

	out, ok := c.TakeOutput()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Rect)
	assert.Equal(t, color.RGBA{R: 9, G: 8, B: 7, A: 255}, out.RGBAAt(3, 3))

	_, ok = c.TakeOutput()
	assert.False(t, ok, "output is handed out once per cycle")

	// the returned frame is a copy
	out.SetRGBA(0, 0, color.RGBA{})

	// a new size reallocates the buffers
	require.True(t, c.SubmitFrame(newFrame(8, 6, color.RGBA{B: 1, A: 255})))
	waitCycles(t, c, 2)
	out, ok = c.TakeOutput()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 8, 6), out.Rect)
	assert.Equal(t, color.RGBA{B: 1, A: 255}, out.RGBAAt(0, 0))
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)

	t.Run("missing engine", func(t *testing.T) {
		c := New(nil, f.tracker, DefaultConfig())
		err := c.Start(t.Context())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DetectTimeout = -time.Second
		c := New(fixedEngine(), f.tracker, cfg)
		assert.Error(t, c.Start(t.Context()))
		assert.False(t, c.Running())
	})

	t.Run("restart with new session", func(t *testing.T) {
		c := New(fixedEngine(), f.tracker, DefaultConfig())
		assert.NoError(t, c.Stop(0), "stopping a stopped pipeline is a no-op")

		require.NoError(t, c.Start(t.Context()))
		first := c.SessionID()
		assert.True(t, c.Running())

		err := c.Start(t.Context())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryState))
		assert.Error(t, c.Reconfigure(DefaultConfig()))

		require.NoError(t, c.Stop(0))
		assert.False(t, c.Running())
		assert.Equal(t, StageIdle, c.Stage())

		cfg := DefaultConfig()
		cfg.ThrowMarkerCallbacks = false
		require.NoError(t, c.Reconfigure(cfg))
		require.NoError(t, c.Start(t.Context()))
		assert.NotEqual(t, first, c.SessionID())
		assert.False(t, c.cfg.ThrowMarkerCallbacks)
		require.NoError(t, c.Stop(testutil.DefaultTestTimeout))
	})
}

type dropRatioRecorder struct {
	metrics.NopRecorder
	ratio atomic.Value
}

func (r *dropRatioRecorder) SetDropRatio(v float64) { r.ratio.Store(v) }

func TestRunHealthMonitor(t *testing.T) {
	f := newFixture(t)
	rec := &dropRatioRecorder{}
	c := New(fixedEngine(), f.tracker, DefaultConfig(), WithRecorder(rec))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.RunHealthMonitor(ctx, 5*time.Millisecond) }()

	// every frame is dropped while stopped
	testutil.Eventually(t, func() bool {
		c.SubmitFrame(newFrame(2, 2, color.RGBA{A: 255}))
		v, ok := rec.ratio.Load().(float64)
		return ok && v == 1
	}, testutil.DefaultTestTimeout, "drop ratio never reported")

	cancel()
	assert.NoError(t, testutil.ReceiveWithin(t, done, testutil.DefaultTestTimeout))
	assert.NoError(t, c.RunHealthMonitor(t.Context(), 0))
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name        string
		prev, cur   Stats
		wantRatio   float64
		wantStalled bool
	}{
		{
			name:      "idle",
			cur:       Stats{Running: true},
			wantRatio: 0,
		},
		{
			name:      "healthy with drops",
			prev:      Stats{Submitted: 10, Cycles: 2, Dropped: 5},
			cur:       Stats{Running: true, Submitted: 20, Cycles: 5, Dropped: 12},
			wantRatio: 0.7,
		},
		{
			name:        "stalled",
			prev:        Stats{Submitted: 10, Cycles: 3},
			cur:         Stats{Running: true, Submitted: 14, Cycles: 3, Dropped: 4},
			wantRatio:   1,
			wantStalled: true,
		},
		{
			name:      "stopped is not stalled",
			cur:       Stats{Submitted: 4, Dropped: 4},
			wantRatio: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkHealth(tt.prev, tt.cur)
			assert.InDelta(t, tt.wantRatio, r.DropRatio, 1e-9)
			assert.Equal(t, tt.wantStalled, r.Stalled)
		})
	}
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "idle", StageIdle.String())
	assert.Equal(t, "captured", StageCaptured.String())
	assert.Equal(t, "grayscaled", StageGrayscaled.String())
	assert.Equal(t, StageIdle, stageCapturing.public())
	assert.Equal(t, StageIdle, stageStopped.public())
	assert.Equal(t, "unknown", Stage(7).String())
}
