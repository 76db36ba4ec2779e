package pipeline

import (
	"fmt"
	"image"
	"image/draw"
)

// Converter writes the luminance of src into dst. dst has the bounds of src
// translated to the origin.
type Converter interface {
	Convert(dst *image.Gray, src image.Image) error
}

// ConverterFunc adapts a function to Converter
type ConverterFunc func(dst *image.Gray, src image.Image) error

// Convert calls f
func (f ConverterFunc) Convert(dst *image.Gray, src image.Image) error {
	return f(dst, src)
}

// LuminanceConverter converts with the BT.601 weights used by image/color,
// with fast paths for the formats frame sources produce.
type LuminanceConverter struct{}

// Convert implements Converter
func (LuminanceConverter) Convert(dst *image.Gray, src image.Image) error {
	if dst == nil || src == nil {
		return fmt.Errorf("convert: nil image")
	}

	sb := src.Bounds()
	if sb.Dx() != dst.Rect.Dx() || sb.Dy() != dst.Rect.Dy() {
		return fmt.Errorf("convert: size mismatch, source %dx%d, destination %dx%d",
			sb.Dx(), sb.Dy(), dst.Rect.Dx(), dst.Rect.Dy())
	}
	if sb.Empty() {
		return fmt.Errorf("convert: empty image")
	}

	switch s := src.(type) {
	case *image.RGBA:
		convertRGBA(dst, s)
	case *image.Gray:
		for y := 0; y < sb.Dy(); y++ {
			so := s.PixOffset(sb.Min.X, sb.Min.Y+y)
			do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
			copy(dst.Pix[do:do+sb.Dx()], s.Pix[so:so+sb.Dx()])
		}
	case *image.YCbCr:
		// the Y plane already is the luminance
		for y := 0; y < sb.Dy(); y++ {
			so := s.YOffset(sb.Min.X, sb.Min.Y+y)
			do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
			copy(dst.Pix[do:do+sb.Dx()], s.Y[so:so+sb.Dx()])
		}
	default:
		draw.Draw(dst, dst.Rect, src, sb.Min, draw.Src)
	}
	return nil
}

func convertRGBA(dst *image.Gray, src *image.RGBA) {
	sb := src.Bounds()
	for y := 0; y < sb.Dy(); y++ {
		so := src.PixOffset(sb.Min.X, sb.Min.Y+y)
		do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		row := src.Pix[so : so+4*sb.Dx()]
		for x := 0; x < sb.Dx(); x++ {
			dst.Pix[do+x] = luma(row[4*x], row[4*x+1], row[4*x+2])
		}
	}
}

// luma matches color.GrayModel on 8-bit premultiplied channels
func luma(r, g, b uint8) uint8 {
	r16, g16, b16 := uint32(r)*0x101, uint32(g)*0x101, uint32(b)*0x101
	return uint8((19595*r16 + 38470*g16 + 7471*b16 + 1<<15) >> 24)
}

// copyFrame copies src into dst, reallocating dst when the size changed. The
// result always starts at the origin.
func copyFrame(dst *image.RGBA, src image.Image) *image.RGBA {
	sb := src.Bounds()
	if dst == nil || dst.Rect.Dx() != sb.Dx() || dst.Rect.Dy() != sb.Dy() {
		dst = image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	}

	if s, ok := src.(*image.RGBA); ok {
		rowLen := 4 * sb.Dx()
		for y := 0; y < sb.Dy(); y++ {
			so := s.PixOffset(sb.Min.X, sb.Min.Y+y)
			do := dst.PixOffset(0, y)
			copy(dst.Pix[do:do+rowLen], s.Pix[so:so+rowLen])
		}
		return dst
	}

	draw.Draw(dst, dst.Rect, src, sb.Min, draw.Src)
	return dst
}

// cloneRGBA returns a deep copy of img
func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

// ensureGray returns dst when it matches the size of ref, or a new image
func ensureGray(dst *image.Gray, ref image.Rectangle) *image.Gray {
	if dst != nil && dst.Rect.Dx() == ref.Dx() && dst.Rect.Dy() == ref.Dy() {
		return dst
	}
	return image.NewGray(image.Rect(0, 0, ref.Dx(), ref.Dy()))
}
