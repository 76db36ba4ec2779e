// Package framesource feeds frames into the pipeline at a fixed rate. The
// sources here stand in for a camera: one replays still images from a
// directory, the other produces solid frames.
package framesource

import (
	"context"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

const (
	TypeDirectory = "directory"
	TypeSynthetic = "synthetic"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the framesource package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("framesource")
	})
	return serviceLogger
}

// Sink receives frames. SubmitFrame must not block beyond copying the frame
// and reports whether it was accepted.
type Sink interface {
	SubmitFrame(frame image.Image) bool
}

// Source produces frames until it is exhausted or ctx is done
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
	Stats() Stats
}

// Stats counts frames handed to the sink
type Stats struct {
	Emitted      uint64 `json:"emitted"`
	Accepted     uint64 `json:"accepted"`
	Dropped      uint64 `json:"dropped"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// frameFunc returns frame i, or false when the source is exhausted
type frameFunc func(i int) (image.Image, bool, error)

// pacedSource holds the pacing and accounting shared by every source
type pacedSource struct {
	name    string
	frames  int
	limiter *rate.Limiter
	logger  logger.Logger

	emitted      atomic.Uint64
	accepted     atomic.Uint64
	dropped      atomic.Uint64
	decodeErrors atomic.Uint64
}

func newPacedSource(name string, fps float64, frames int) *pacedSource {
	ps := &pacedSource{
		name:   name,
		frames: frames,
		logger: GetLogger().With(logger.String("source", name)),
	}
	if fps > 0 {
		// burst of one keeps frames evenly spaced
		ps.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
	return ps
}

// Name returns the source type
func (p *pacedSource) Name() string {
	return p.name
}

// Stats returns the frame counters
func (p *pacedSource) Stats() Stats {
	return Stats{
		Emitted:      p.emitted.Load(),
		Accepted:     p.accepted.Load(),
		Dropped:      p.dropped.Load(),
		DecodeErrors: p.decodeErrors.Load(),
	}
}

// run paces next into sink. A cancelled ctx ends the run without error.
func (p *pacedSource) run(ctx context.Context, sink Sink, next frameFunc) error {
	p.logger.Info("frame source started",
		logger.Int("frames", p.frames),
		logger.Bool("paced", p.limiter != nil))

	defer func() {
		st := p.Stats()
		p.logger.Info("frame source finished",
			logger.Uint64("emitted", st.Emitted),
			logger.Uint64("accepted", st.Accepted),
			logger.Uint64("dropped", st.Dropped))
	}()

	for i := 0; p.frames <= 0 || i < p.frames; i++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New(err).
					Component("framesource").
					Category(errors.CategoryFrameSource).
					Context("operation", "rate_limiter_wait").
					Build()
			}
		} else if ctx.Err() != nil {
			return nil
		}

		frame, ok, err := next(i)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		p.emitted.Add(1)
		if sink.SubmitFrame(frame) {
			p.accepted.Add(1)
		} else {
			p.dropped.Add(1)
		}
	}
	return nil
}

// New creates the source configured in settings
func New(s *conf.SourceSettings) (Source, error) {
	switch strings.ToLower(s.Type) {
	case TypeDirectory:
		src, err := NewDirectorySource(s.Path, s.FPS, s.Loop, s.Frames)
		if err != nil {
			return nil, err
		}
		return src, nil
	case TypeSynthetic, "":
		src, err := NewSyntheticSource(s.Width, s.Height, s.FPS, s.Frames)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, errors.Newf("unknown frame source type %q", s.Type).
			Component("framesource").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
