package framesource

import (
	"context"
	"image"
	"image/color"

	"github.com/markertrack/markertrack/internal/errors"
)

const (
	defaultSyntheticWidth  = 640
	defaultSyntheticHeight = 480
)

// SyntheticSource emits solid frames whose shade changes every frame. Paired
// with the scripted engine it runs the pipeline without a camera.
type SyntheticSource struct {
	*pacedSource
	width, height int
}

// NewSyntheticSource creates a source of width x height frames; zero sizes
// use 640x480
func NewSyntheticSource(width, height int, fps float64, frames int) (*SyntheticSource, error) {
	if width < 0 || height < 0 {
		return nil, errors.Newf("invalid synthetic frame size %dx%d", width, height).
			Component("framesource").
			Category(errors.CategoryValidation).
			Build()
	}
	if width == 0 {
		width = defaultSyntheticWidth
	}
	if height == 0 {
		height = defaultSyntheticHeight
	}
	return &SyntheticSource{
		pacedSource: newPacedSource(TypeSynthetic, fps, frames),
		width:       width,
		height:      height,
	}, nil
}

// Run emits frames into sink until the frame limit or ctx is done
func (s *SyntheticSource) Run(ctx context.Context, sink Sink) error {
	frame := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	return s.run(ctx, sink, func(i int) (image.Image, bool, error) {
		// the sink copies the frame, so one buffer is reused
		fill(frame, shade(i))
		return frame, true, nil
	})
}

func shade(i int) color.RGBA {
	v := uint8(i % 256)
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

func fill(img *image.RGBA, c color.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
}
