package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: uint8((x * y) % 255)})
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	for _, p := range []string{"a.png", "b.JPG", "c.jpeg", "d.bmp", "e.tif", "f.TIFF"} {
		assert.True(t, IsSupportedImage(p), p)
	}
	for _, p := range []string{"a.gif", "b.dcm", "noext", "c.pdf"} {
		assert.False(t, IsSupportedImage(p), p)
	}
}

func TestLoadImage_Formats(t *testing.T) {
	dir := t.TempDir()
	img := grayImage(40, 30)

	encoders := map[string]func(*bytes.Buffer) error{
		"x.png":  func(b *bytes.Buffer) error { return png.Encode(b, img) },
		"x.bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, img) },
		"x.tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, img, nil) },
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, enc(&buf))
			p := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))

			got, meta, err := LoadImage(p)
			require.NoError(t, err)
			assert.Equal(t, 40, got.Bounds().Dx())
			assert.Equal(t, 30, meta.Height)
			assert.Equal(t, p, meta.Path)
			assert.Equal(t, int64(buf.Len()), meta.SizeBytes)
			assert.InDelta(t, 40.0/30.0, meta.AspectRatio, 1e-9)
		})
	}
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	assert.Error(t, err)

	_, _, err = LoadImage("scan.gif")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, grayImage(8, 4)))
	n := int64(buf.Len())
	img, meta, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.LessOrEqual(t, meta.SizeBytes, n)
	assert.Positive(t, meta.SizeBytes)
}

func TestSavePNG(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "dir", "overlay.png")
	require.NoError(t, SavePNG(p, grayImage(5, 5)))
	got, _, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Bounds().Dy())

	assert.Error(t, SavePNG(p, nil))
}
