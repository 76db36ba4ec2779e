// Package pipeline runs the three-stage frame pipeline: capture, grayscale
// conversion and marker detection. The stages share the frame buffers without
// a lock; an atomic stage gate decides which goroutine owns them.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/observability/metrics"
	"github.com/markertrack/markertrack/internal/tracking"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the pipeline package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("pipeline")
	})
	return serviceLogger
}

// stageGauge is implemented by recorders exposing pipeline gauges, such as
// metrics.PipelineMetrics
type stageGauge interface {
	SetStage(stage int32)
	SetRunning(running bool)
}

// ErrNotRunning is returned by operations that need a running pipeline
var ErrNotRunning = errors.NewStd("pipeline not running")

// ErrStopTimeout is returned by Stop when the workers did not exit in time.
// The buffers are kept; call Stop again to finish.
var ErrStopTimeout = errors.NewStd("pipeline stop timed out")

// Coordinator owns the frame buffers, the stage gate and the two worker
// goroutines.
type Coordinator struct {
	engine    detector.Engine
	tracker   *tracking.Tracker
	converter Converter
	recorder  metrics.Recorder
	logger    logger.Logger

	// lifecycle
	lifecycleMu sync.Mutex
	pending     Config
	cfg         Config // bound by Start, read-only while running
	running     atomic.Bool
	stopping    bool
	shutdown    atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	workers     sync.WaitGroup
	done        chan struct{}
	sessionID   atomic.Pointer[string]

	// stage gate
	state atomic.Int32
	mu    sync.Mutex
	cond  *sync.Cond

	// buffers, owned according to the stage gate
	working *image.RGBA
	gray    *image.Gray

	// last processed frame for the renderer
	outputMu sync.Mutex
	output   *image.RGBA
	fresh    atomic.Bool

	buffersReleased atomic.Bool

	counters counters
}

type counters struct {
	submitted          atomic.Uint64
	accepted           atomic.Uint64
	dropped            atomic.Uint64
	cycles             atomic.Uint64
	conversionFailures atomic.Uint64
	detectionFailures  atomic.Uint64
	detectTimeouts     atomic.Uint64
	stagePanics        atomic.Uint64
}

// Stats is a snapshot of the coordinator counters
type Stats struct {
	SessionID          string `json:"session_id"`
	Running            bool   `json:"running"`
	Stage              string `json:"stage"`
	Submitted          uint64 `json:"submitted"`
	Accepted           uint64 `json:"accepted"`
	Dropped            uint64 `json:"dropped"`
	Cycles             uint64 `json:"cycles"`
	ConversionFailures uint64 `json:"conversion_failures"`
	DetectionFailures  uint64 `json:"detection_failures"`
	DetectTimeouts     uint64 `json:"detect_timeouts"`
	StagePanics        uint64 `json:"stage_panics"`
	ActiveMarkers      int    `json:"active_markers"`
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithConverter replaces the luminance converter
func WithConverter(conv Converter) Option {
	return func(c *Coordinator) {
		if conv != nil {
			c.converter = conv
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a stopped coordinator. cfg is bound on the next Start.
func New(engine detector.Engine, tracker *tracking.Tracker, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:    engine,
		tracker:   tracker,
		converter: LuminanceConverter{},
		recorder:  metrics.NopRecorder{},
		logger:    GetLogger(),
		pending:   cfg,
	}
	c.cond = sync.NewCond(&c.mu)
	c.state.Store(int32(stageStopped))
	c.buffersReleased.Store(true)
	empty := ""
	c.sessionID.Store(&empty)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconfigure replaces the configuration bound on the next Start
func (c *Coordinator) Reconfigure(cfg Config) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running.Load() || c.stopping {
		return errors.Newf("cannot reconfigure a running pipeline").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	c.pending = cfg
	return nil
}

// Start binds the configuration, resets the gate to Idle and spawns the
// grayscale and detection workers. ctx is handed to every detection call;
// cancelling it does not stop the pipeline, Stop does.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running.Load() {
		return errors.Newf("pipeline already running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	if c.stopping {
		return errors.Newf("pipeline still stopping; call Stop until it succeeds").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	if c.engine == nil || c.tracker == nil {
		return errors.Newf("pipeline needs a detection engine and a tracker").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg := c.pending
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	c.cfg = cfg

	sessionID := uuid.NewString()
	c.sessionID.Store(&sessionID)
	c.tracker.SetSessionID(sessionID)

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.shutdown.Store(false)
	c.fresh.Store(false)
	c.buffersReleased.Store(false)
	c.done = make(chan struct{})

	c.workers.Go(c.grayscaleWorker)
	c.workers.Go(c.detectionWorker)

	done := c.done
	go func() {
		c.workers.Wait()
		close(done)
	}()

	c.running.Store(true)
	c.state.Store(int32(StageIdle))
	c.afterTransition(StageIdle)
	if g, ok := c.recorder.(stageGauge); ok {
		g.SetRunning(true)
	}

	c.logger.Info("pipeline started",
		logger.String("session_id", sessionID),
		logger.String("engine", cfg.Detection.Engine),
		logger.String("dictionary", cfg.Detection.Dictionary.String()),
		logger.Bool("throw_marker_callbacks", cfg.ThrowMarkerCallbacks),
		logger.Duration("detect_timeout", cfg.DetectTimeout))

	return nil
}

// Stop requests a cooperative shutdown and waits up to timeout for both
// workers to exit. Buffers are released only after they have. On timeout the
// buffers are kept and ErrStopTimeout is returned; calling Stop again resumes
// the wait. A zero timeout uses the configured stop timeout.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running.Load() && !c.stopping {
		return nil
	}
	if timeout <= 0 {
		timeout = c.cfg.StopTimeout
	}

	if !c.stopping {
		c.stopping = true
		c.running.Store(false)
		c.shutdown.Store(true)
		c.cancel()
		c.broadcast()
		c.logger.Info("pipeline stopping", logger.Duration("timeout", timeout))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("pipeline workers did not exit in time, keeping buffers",
			logger.Duration("timeout", timeout),
			logger.String("stage", Stage(c.state.Load()).String()))
		return errors.New(ErrStopTimeout).
			Component("pipeline").
			Category(errors.CategoryTimeout).
			Timing("stop", timeout).
			Build()
	}

	c.closeGate()
	c.releaseBuffers()
	c.stopping = false

	if g, ok := c.recorder.(stageGauge); ok {
		g.SetRunning(false)
	}
	if closer, ok := c.engine.(detector.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("failed to close detection engine", logger.Error(err))
		}
	}

	c.logger.Info("pipeline stopped",
		logger.Uint64("cycles", c.counters.cycles.Load()),
		logger.Uint64("dropped", c.counters.dropped.Load()))
	return nil
}

// closeGate moves the gate to stopped, waiting out an in-flight capture copy
func (c *Coordinator) closeGate() {
	for {
		s := Stage(c.state.Load())
		if s == stageCapturing {
			c.mu.Lock()
			for Stage(c.state.Load()) == stageCapturing {
				c.cond.Wait()
			}
			c.mu.Unlock()
			continue
		}
		if c.state.CompareAndSwap(int32(s), int32(stageStopped)) {
			c.afterTransition(StageIdle)
			return
		}
	}
}

func (c *Coordinator) releaseBuffers() {
	c.working = nil
	c.gray = nil
	c.outputMu.Lock()
	c.output = nil
	c.outputMu.Unlock()
	c.fresh.Store(false)
	c.buffersReleased.Store(true)
}

// Running reports whether the pipeline accepts frames
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// SessionID returns the id of the current or last run
func (c *Coordinator) SessionID() string {
	return *c.sessionID.Load()
}

// SubmitFrame copies frame into the working buffer if the pipeline is idle.
// Otherwise the frame is dropped and false is returned; the caller never
// blocks beyond one buffer copy.
func (c *Coordinator) SubmitFrame(frame image.Image) (accepted bool) {
	c.counters.submitted.Add(1)

	if frame == nil || frame.Bounds().Empty() || !c.state.CompareAndSwap(int32(StageIdle), int32(stageCapturing)) {
		c.counters.dropped.Add(1)
		c.recorder.RecordOperation(metrics.OpCapture, metrics.StatusDropped)
		return false
	}

	// a timed-out Stop leaves the gate open once the last worker finishes,
	// with nobody left to process a frame
	if c.shutdown.Load() {
		c.forceIdle(stageCapturing)
		c.counters.dropped.Add(1)
		c.recorder.RecordOperation(metrics.OpCapture, metrics.StatusDropped)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.stagePanic("capture", stageCapturing, r)
			accepted = false
		}
	}()

	c.working = copyFrame(c.working, frame)

	c.counters.accepted.Add(1)
	c.recorder.RecordOperation(metrics.OpCapture, metrics.StatusAccepted)
	c.transition(stageCapturing, StageCaptured)
	return true
}

// TakeOutput returns the last processed frame once per detection cycle.
// It returns false when no new frame completed since the previous call.
func (c *Coordinator) TakeOutput() (*image.RGBA, bool) {
	if !c.fresh.CompareAndSwap(true, false) {
		return nil, false
	}

	c.outputMu.Lock()
	defer c.outputMu.Unlock()
	if c.output == nil {
		return nil, false
	}
	return cloneRGBA(c.output), true
}

// Stage returns the observable stage
func (c *Coordinator) Stage() Stage {
	return c.currentStage()
}

// Stats returns a snapshot of the counters
func (c *Coordinator) Stats() Stats {
	return Stats{
		SessionID:          c.SessionID(),
		Running:            c.running.Load(),
		Stage:              c.currentStage().String(),
		Submitted:          c.counters.submitted.Load(),
		Accepted:           c.counters.accepted.Load(),
		Dropped:            c.counters.dropped.Load(),
		Cycles:             c.counters.cycles.Load(),
		ConversionFailures: c.counters.conversionFailures.Load(),
		DetectionFailures:  c.counters.detectionFailures.Load(),
		DetectTimeouts:     c.counters.detectTimeouts.Load(),
		StagePanics:        c.counters.stagePanics.Load(),
		ActiveMarkers:      c.tracker.Len(),
	}
}

// stagePanic records a recovered panic and resets the gate from stage to Idle
func (c *Coordinator) stagePanic(stageName string, stage Stage, r any) {
	c.counters.stagePanics.Add(1)

	err := errors.Newf("%s stage panicked: %v", stageName, r).
		Component("pipeline").
		Category(errors.CategoryPipeline).
		Priority(errors.PriorityHigh).
		FrameContext(c.counters.cycles.Load(), stageName).
		Build()

	c.logger.Error("pipeline stage panicked",
		logger.String("stage", stageName),
		logger.Error(err))
	c.recorder.RecordOperation(stageName, metrics.StatusPanic)

	c.forceIdle(stage)
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("pipeline(session=%s, stage=%s)", c.SessionID(), c.currentStage())
}
