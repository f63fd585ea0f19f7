package overlay

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

// DefaultAlpha is the heatmap weight in the blend.
const DefaultAlpha = 0.5

// Options controls Blend.
type Options struct {
	Alpha   float64
	Palette *Palette
	Resize  heatmap.Method
}

// DefaultOptions returns jet at alpha 0.5 with bilinear resizing.
func DefaultOptions() Options {
	p, _ := LookupPalette(DefaultPalette)
	return Options{Alpha: DefaultAlpha, Palette: p, Resize: heatmap.Bilinear}
}

// index maps a relevance value to a palette index, truncating like a uint8 cast.
func index(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(255 * v)
	}
}

// Blend resizes m to the display size, colorizes it and mixes it over display
// as color*alpha + display*(1-alpha), truncated to 8 bits. The result is
// opaque and has the dimensions of display.
func Blend(display *image.NRGBA, m *heatmap.Map, opts Options) (*image.NRGBA, error) {
	if display == nil {
		return nil, errors.New("overlay: display image is nil")
	}
	if m == nil {
		return nil, errors.New("overlay: attribution map is nil")
	}
	if !(opts.Alpha >= 0 && opts.Alpha <= 1) {
		return nil, fmt.Errorf("overlay: alpha %g outside [0,1]", opts.Alpha)
	}
	pal := opts.Palette
	if pal == nil {
		pal, _ = LookupPalette(DefaultPalette)
	}
	b := display.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("overlay: invalid display size %dx%d", w, h)
	}
	scaled, err := heatmap.Resize(m, w, h, opts.Resize)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}

	a := opts.Alpha
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		src := display.Pix[display.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := range w {
			c := pal.lut[index(scaled.Data[y*w+x])]
			i := x * 4
			dst[i] = mix(c.R, src[i], a)
			dst[i+1] = mix(c.G, src[i+1], a)
			dst[i+2] = mix(c.B, src[i+2], a)
			dst[i+3] = 0xff
		}
	}
	return out, nil
}

func mix(heat, base uint8, a float64) uint8 {
	v := float64(heat)*a + float64(base)*(1-a)
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Colorize renders m alone through the palette at its native size.
func Colorize(m *heatmap.Map, pal *Palette) (*image.NRGBA, error) {
	if m == nil {
		return nil, errors.New("overlay: attribution map is nil")
	}
	if pal == nil {
		pal, _ = LookupPalette(DefaultPalette)
	}
	out := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := range m.Height {
		for x := range m.Width {
			out.SetNRGBA(x, y, pal.lut[index(m.At(x, y))])
		}
	}
	return out, nil
}
