package preprocess

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPrepare_ShapesAndRange(t *testing.T) {
	p, err := New(DefaultConfig(), classifier.Shape{1, 224, 224, 3})
	require.NoError(t, err)

	src := image.NewGray(image.Rect(0, 0, 300, 180))
	for y := range 180 {
		for x := range 300 {
			src.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	tensor, display, err := p.Prepare(src)
	require.NoError(t, err)
	assert.Equal(t, classifier.Shape{1, 224, 224, 3}, tensor.Shape)
	assert.Len(t, tensor.Data, 224*224*3)
	assert.Equal(t, image.Rect(0, 0, 224, 224), display.Bounds())

	for _, v := range tensor.Data {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
	for i := 3; i < len(display.Pix); i += 4 {
		require.Equal(t, uint8(255), display.Pix[i])
	}
}

func TestPrepare_GrayscaleReplicated(t *testing.T) {
	p, err := New(Config{Width: 4, Height: 4}, nil)
	require.NoError(t, err)

	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 51
	}
	tensor, _, err := p.Prepare(src)
	require.NoError(t, err)
	for i := 0; i < len(tensor.Data); i += 3 {
		assert.InDelta(t, 0.2, tensor.Data[i], 1e-6)
		assert.Equal(t, tensor.Data[i], tensor.Data[i+1])
		assert.Equal(t, tensor.Data[i], tensor.Data[i+2])
	}
}

func TestPrepare_AlphaDroppedNotComposited(t *testing.T) {
	p, err := New(Config{Width: 2, Height: 2}, nil)
	require.NoError(t, err)

	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 100, 50, 10
	}
	tensor, display, err := p.Prepare(src)
	require.NoError(t, err)
	assert.Equal(t, []uint8{200, 100, 50, 255}, display.Pix[:4])
	assert.InDelta(t, 200.0/255, tensor.Data[0], 1e-6)
	assert.InDelta(t, 100.0/255, tensor.Data[1], 1e-6)
	assert.InDelta(t, 50.0/255, tensor.Data[2], 1e-6)
}

func TestPrepare_RGBOrder(t *testing.T) {
	p, err := New(Config{Width: 8, Height: 8, Filter: "nearest"}, nil)
	require.NoError(t, err)
	tensor, _, err := p.Prepare(uniform(16, 16, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, tensor.Data[:3])
}

func TestPrepare_Errors(t *testing.T) {
	p, err := New(DefaultConfig(), classifier.Shape{1, 299, 299, 3})
	require.NoError(t, err)

	_, _, err = p.Prepare(nil)
	assert.Error(t, err)

	_, _, err = p.Prepare(uniform(10, 10, color.White))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputShapeMismatch))
	var sme *ShapeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, classifier.Shape{1, 224, 224, 3}, sme.Got)
}

func TestPrepare_DynamicDimensions(t *testing.T) {
	p, err := New(DefaultConfig(), classifier.Shape{-1, 224, 224, 3})
	require.NoError(t, err)
	_, _, err = p.Prepare(uniform(50, 40, color.White))
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Width: 0, Height: 224}, nil)
	assert.Error(t, err)
	_, err = New(Config{Width: 224, Height: 224, Filter: "sinc"}, nil)
	assert.Error(t, err)

	for _, name := range []string{"", "lanczos", "CatmullRom", "linear", "nearest"} {
		_, err := ParseFilter(name)
		assert.NoError(t, err, name)
	}
}
