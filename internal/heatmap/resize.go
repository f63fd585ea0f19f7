package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// Method selects the interpolation kernel used by Resize.
type Method string

const (
	Bilinear Method = "bilinear"
	Bicubic  Method = "bicubic"
)

// ParseMethod maps a configuration string to a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Bilinear:
		return Bilinear, nil
	case Bicubic:
		return Bicubic, nil
	default:
		return "", fmt.Errorf("unknown resize method %q (must be bilinear or bicubic)", s)
	}
}

func (m Method) interpolator() draw.Interpolator {
	if m == Bicubic {
		return draw.CatmullRom
	}
	return draw.BiLinear
}

// Resize interpolates m to w x h. Values are carried through a 16-bit
// grayscale raster, so the result keeps the [0,1] range with 1/65535 precision.
func Resize(m *Map, w, h int, method Method) (*Map, error) {
	if m == nil {
		return nil, errors.New("nil map")
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}
	if m.Width <= 0 || m.Height <= 0 || len(m.Data) != m.Width*m.Height {
		return nil, fmt.Errorf("malformed map %dx%d", m.Width, m.Height)
	}
	if m.Width == w && m.Height == h {
		return m.Clone(), nil
	}

	src := toGray16(m)
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	method.interpolator().Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromGray16(dst), nil
}

func toGray16(m *Map) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.At(x, y)
			switch {
			case v <= 0:
				v = 0
			case v >= 1:
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}
	return img
}

func fromGray16(img *image.Gray16) *Map {
	b := img.Bounds()
	out := &Map{Width: b.Dx(), Height: b.Dy(), Data: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, float32(img.Gray16At(b.Min.X+x, b.Min.Y+y).Y)/65535)
		}
	}
	return out
}
