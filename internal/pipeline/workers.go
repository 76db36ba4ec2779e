package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/markertrack/markertrack/internal/detector"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/observability/metrics"
)

const (
	stageNameGrayscale = "grayscale"
	stageNameDetect    = "detect"
)

func (c *Coordinator) grayscaleWorker() {
	for c.waitFor(StageCaptured) {
		c.runGrayscale()
	}
	c.logger.Debug("grayscale worker exited")
}

func (c *Coordinator) detectionWorker() {
	for c.waitFor(StageGrayscaled) {
		c.runDetection()
	}
	c.logger.Debug("detection worker exited")
}

// runGrayscale owns working and gray while the gate holds Captured
func (c *Coordinator) runGrayscale() {
	defer func() {
		if r := recover(); r != nil {
			c.stagePanic(stageNameGrayscale, StageCaptured, r)
		}
	}()

	start := time.Now()
	c.gray = ensureGray(c.gray, c.working.Rect)

	if err := c.converter.Convert(c.gray, c.working); err != nil {
		c.counters.conversionFailures.Add(1)
		ee := errors.New(err).
			Component("pipeline").
			Category(errors.CategoryConversion).
			FrameContext(c.counters.cycles.Load(), stageNameGrayscale).
			Build()
		c.logger.Warn("grayscale conversion failed, dropping frame", logger.Error(ee))
		c.recorder.RecordOperation(metrics.OpGrayscale, metrics.StatusError)
		c.forceIdle(StageCaptured)
		return
	}

	c.recorder.RecordDuration(metrics.OpGrayscale, time.Since(start).Seconds())
	c.recorder.RecordOperation(metrics.OpGrayscale, metrics.StatusSuccess)
	c.transition(StageCaptured, StageGrayscaled)
}

// runDetection owns working and gray while the gate holds Grayscaled. A
// detection that returns after Stop was requested is discarded: no
// reconciliation, no events, no cycle counted and no output published.
func (c *Coordinator) runDetection() {
	defer func() {
		if r := recover(); r != nil {
			c.stagePanic(stageNameDetect, StageGrayscaled, r)
		}
	}()

	cycleStart := time.Now()
	cycle := c.counters.cycles.Load() + 1

	res, err := c.detect()
	if c.shutdown.Load() {
		// stopping; markers stay active until the next run
		c.logger.Debug("detection result discarded on shutdown",
			logger.Uint64("cycle", cycle),
			logger.Error(err))
		c.forceIdle(StageGrayscaled)
		return
	}
	if err != nil {
		c.counters.detectionFailures.Add(1)
		category := errors.CategoryDetection
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		ee := errors.New(err).
			Component("pipeline").
			Category(category).
			FrameContext(cycle, stageNameDetect).
			Build()
		c.logger.Warn("marker detection failed, treating frame as empty",
			logger.Uint64("cycle", cycle),
			logger.Error(ee))
		c.recorder.RecordOperation(metrics.OpDetect, metrics.StatusError)
		c.recorder.RecordError(metrics.OpDetect, string(category))
		res = detector.Result{}
	} else {
		c.recorder.RecordOperation(metrics.OpDetect, metrics.StatusSuccess)
	}
	c.recorder.RecordDuration(metrics.OpDetect, time.Since(cycleStart).Seconds())

	if c.cfg.ThrowMarkerCallbacks {
		reconcileStart := time.Now()
		c.tracker.Reconcile(res.IDs, res.Corners, c.gray)
		c.recorder.RecordDuration(metrics.OpReconcile, time.Since(reconcileStart).Seconds())
	}

	c.publishOutput()
	c.counters.cycles.Add(1)
	c.recorder.RecordOperation(metrics.OpCycle, metrics.StatusSuccess)
	c.recorder.RecordDuration(metrics.OpCycle, time.Since(cycleStart).Seconds())

	c.transition(StageGrayscaled, StageIdle)
}

// detect calls the engine, bounded by the detect timeout when one is set.
// An abandoned call keeps the grayscale buffer it was given; the next
// grayscale pass allocates a fresh one.
func (c *Coordinator) detect() (detector.Result, error) {
	cfg := c.cfg.Detection

	if c.cfg.DetectTimeout <= 0 {
		return c.engine.Detect(c.ctx, c.gray, cfg.Dictionary, cfg.Parameters)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DetectTimeout)
	defer cancel()

	type outcome struct {
		res detector.Result
		err error
	}
	resultCh := make(chan outcome, 1)
	gray := c.gray

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("detection engine panicked: %v", r)}
			}
		}()
		res, err := c.engine.Detect(ctx, gray, cfg.Dictionary, cfg.Parameters)
		resultCh <- outcome{res: res, err: err}
	}()

	select {
	case out := <-resultCh:
		return out.res, out.err
	case <-ctx.Done():
		c.gray = nil
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.counters.detectTimeouts.Add(1)
			c.recorder.RecordOperation(metrics.OpDetect, metrics.StatusTimeout)
		}
		return detector.Result{}, fmt.Errorf("detection abandoned after %s: %w", c.cfg.DetectTimeout, ctx.Err())
	}
}

// publishOutput copies the processed frame for TakeOutput
func (c *Coordinator) publishOutput() {
	c.outputMu.Lock()
	c.output = copyFrame(c.output, c.working)
	c.outputMu.Unlock()
	c.fresh.Store(true)
}

