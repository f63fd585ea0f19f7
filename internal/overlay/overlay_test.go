package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

func gray(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func TestPalettes(t *testing.T) {
	jet, err := LookupPalette("")
	require.NoError(t, err)
	assert.Equal(t, "jet", jet.Name())
	// jet runs from dark blue to dark red.
	lo, hi := jet.At(0), jet.At(255)
	assert.Greater(t, lo.B, lo.R)
	assert.Greater(t, hi.R, hi.B)
	assert.Equal(t, uint8(255), jet.At(128).A)

	cw, err := LookupPalette("CoolWarm")
	require.NoError(t, err)
	assertNear(t, color.NRGBA{R: 0x3b, G: 0x4c, B: 0xc0, A: 255}, cw.At(0))
	assertNear(t, color.NRGBA{R: 0xb4, G: 0x04, B: 0x26, A: 255}, cw.At(255))

	_, err = LookupPalette("viridis")
	assert.Error(t, err)
}

func assertNear(t *testing.T, want, got color.NRGBA) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 1)
	assert.InDelta(t, want.G, got.G, 1)
	assert.InDelta(t, want.B, got.B, 1)
	assert.Equal(t, want.A, got.A)
}

func TestIndexTruncates(t *testing.T) {
	tests := []struct {
		v    float32
		want uint8
	}{
		{0, 0}, {-1, 0}, {0.5, 127}, {0.999, 254}, {1, 255}, {2, 255},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, index(tt.v), "index(%v)", tt.v)
	}
}

func TestBlend_Formula(t *testing.T) {
	display := gray(4, 4, 100)
	m := heatmap.Zero(4, 4)
	for i := range m.Data {
		m.Data[i] = 1
	}
	opts := DefaultOptions()
	out, err := Blend(display, m, opts)
	require.NoError(t, err)
	require.Equal(t, display.Bounds(), out.Bounds())

	c := opts.Palette.At(255)
	px := out.NRGBAAt(1, 1)
	assert.Equal(t, uint8(float64(c.R)*0.5+50), px.R)
	assert.Equal(t, uint8(float64(c.G)*0.5+50), px.G)
	assert.Equal(t, uint8(float64(c.B)*0.5+50), px.B)
	assert.Equal(t, uint8(255), px.A)
}

func TestBlend_AlphaExtremes(t *testing.T) {
	display := gray(3, 2, 77)
	m := heatmap.Zero(3, 2)
	m.Set(0, 0, 1)

	opts := DefaultOptions()
	opts.Alpha = 0
	out, err := Blend(display, m, opts)
	require.NoError(t, err)
	assert.Equal(t, display.Pix, out.Pix)

	opts.Alpha = 1
	out, err = Blend(display, m, opts)
	require.NoError(t, err)
	assert.Equal(t, opts.Palette.At(255), out.NRGBAAt(0, 0))
	assert.Equal(t, opts.Palette.At(0), out.NRGBAAt(2, 1))
}

func TestBlend_ResizesMapToDisplay(t *testing.T) {
	display := gray(224, 224, 30)
	m := heatmap.Zero(7, 7)
	m.Set(3, 3, 1)
	out, err := Blend(display, m, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 224, 224), out.Bounds())
}

func TestBlend_DegradedMapUsesLowestColor(t *testing.T) {
	display := gray(8, 8, 0)
	opts := DefaultOptions()
	out, err := Blend(display, heatmap.Zero(2, 2), opts)
	require.NoError(t, err)
	c := opts.Palette.At(0)
	assert.Equal(t, uint8(float64(c.B)*0.5), out.NRGBAAt(5, 5).B)
}

func TestBlend_Errors(t *testing.T) {
	m := heatmap.Zero(2, 2)
	_, err := Blend(nil, m, DefaultOptions())
	assert.Error(t, err)
	_, err = Blend(gray(2, 2, 0), nil, DefaultOptions())
	assert.Error(t, err)
	for _, a := range []float64{-0.1, 1.5} {
		opts := DefaultOptions()
		opts.Alpha = a
		_, err = Blend(gray(2, 2, 0), m, opts)
		assert.Error(t, err, "alpha %v", a)
	}
}

func TestColorize(t *testing.T) {
	m := heatmap.Zero(2, 1)
	m.Set(1, 0, 1)
	pal, _ := LookupPalette("jet")
	img, err := Colorize(m, pal)
	require.NoError(t, err)
	assert.Equal(t, pal.At(0), img.NRGBAAt(0, 0))
	assert.Equal(t, pal.At(255), img.NRGBAAt(1, 0))
}

func TestLegend(t *testing.T) {
	img := Legend(nil, 10, "relevance")
	assert.Equal(t, 40, img.Bounds().Dy())
	assert.Greater(t, img.Bounds().Dx(), legendBarWidth)
}
