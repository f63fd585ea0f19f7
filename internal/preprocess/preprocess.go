// Package preprocess turns decoded images into the classifier input tensor
// and the matching display image.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

const (
	DefaultSize   = 224
	DefaultFilter = "lanczos"
)

// ErrInputShapeMismatch is matched by *ShapeMismatchError.
var ErrInputShapeMismatch = errors.New("input shape mismatch")

// ShapeMismatchError reports a prepared tensor that does not fit the classifier.
type ShapeMismatchError struct {
	Got      classifier.Shape
	Expected classifier.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("input shape mismatch: prepared %v, classifier expects %v", e.Got, e.Expected)
}

// Is lets errors.Is(err, ErrInputShapeMismatch) succeed.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrInputShapeMismatch }

// Config holds the preprocessing target.
type Config struct {
	Width  int
	Height int
	Filter string
}

// DefaultConfig returns the 224x224 Lanczos setup.
func DefaultConfig() Config {
	return Config{Width: DefaultSize, Height: DefaultSize, Filter: DefaultFilter}
}

// ParseFilter maps a filter name to an imaging resample filter.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "linear":
		return imaging.Linear, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
	}
}

// Preprocessor prepares images for a classifier with a fixed input shape.
type Preprocessor struct {
	cfg      Config
	filter   imaging.ResampleFilter
	expected classifier.Shape
}

// New validates cfg. expected is the classifier's declared input shape; nil
// skips the shape check.
func New(cfg Config, expected classifier.Shape) (*Preprocessor, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid preprocess size %dx%d", cfg.Width, cfg.Height)
	}
	filter, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{cfg: cfg, filter: filter, expected: expected}, nil
}

// Size returns the target width and height.
func (p *Preprocessor) Size() (int, int) { return p.cfg.Width, p.cfg.Height }

// Prepare converts img to opaque RGB, resizes it to the target size and
// returns the [0,1] NHWC tensor together with the 8-bit display image.
func (p *Preprocessor) Prepare(img image.Image) (*classifier.Tensor, *image.NRGBA, error) {
	if img == nil {
		return nil, nil, errors.New("preprocess: input image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, nil, fmt.Errorf("preprocess: invalid image dimensions %dx%d", b.Dx(), b.Dy())
	}

	display := imaging.Resize(Opaque(img), p.cfg.Width, p.cfg.Height, p.filter)
	w, h := display.Bounds().Dx(), display.Bounds().Dy()

	data := make([]float32, h*w*3)
	for y := range h {
		row := display.Pix[y*display.Stride:]
		for x := range w {
			si := x * 4
			di := (y*w + x) * 3
			data[di] = float32(row[si]) / 255
			data[di+1] = float32(row[si+1]) / 255
			data[di+2] = float32(row[si+2]) / 255
			row[si+3] = 0xff
		}
	}

	shape := classifier.Shape{1, h, w, 3}
	if p.expected != nil && !shape.Matches(p.expected) {
		return nil, nil, &ShapeMismatchError{Got: shape, Expected: p.expected}
	}
	return &classifier.Tensor{Data: data, Shape: shape}, display, nil
}

// Opaque copies img into an NRGBA image with every alpha set to 255. Color
// channels keep their straight (non-premultiplied) values; alpha is dropped,
// not composited onto a background.
func Opaque(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c, _ := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}
