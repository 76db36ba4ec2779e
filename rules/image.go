//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// GenericPixelAccess flags the interface At() on concrete image types inside
// the frame path. At() allocates a color.Color per pixel; the typed accessors
// or direct Pix indexing do not.
func GenericPixelAccess(m dsl.Matcher) {
	m.Match(`$img.At($x, $y)`).
		Where(m["img"].Type.Is("*image.Gray") && !m.File().Name.Matches(`_test\.go$`)).
		Report("use $img.GrayAt($x, $y) or index $img.Pix directly").
		Suggest("$img.GrayAt($x, $y)")

	m.Match(`$img.At($x, $y)`).
		Where(m["img"].Type.Is("*image.RGBA") && !m.File().Name.Matches(`_test\.go$`)).
		Report("use $img.RGBAAt($x, $y) or index $img.Pix directly").
		Suggest("$img.RGBAAt($x, $y)")
}

// FrameAllocInLoop flags per-iteration frame allocation. Workers reuse their
// buffers and only reallocate when the frame size changes.
func FrameAllocInLoop(m dsl.Matcher) {
	m.Import("image")

	m.Match(
		`for $*_ { $*_; $_ := image.NewGray($*_); $*_ }`,
		`for $*_ { $*_; $_ = image.NewGray($*_); $*_ }`,
		`for $*_ { $*_; $_ := image.NewRGBA($*_); $*_ }`,
		`for $*_ { $*_; $_ = image.NewRGBA($*_); $*_ }`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("allocate frame buffers outside the loop and reuse them")
}
