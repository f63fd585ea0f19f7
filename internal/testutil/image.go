package testutil

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// Opacity is a bright round region added to a synthetic radiograph, in
// fractions of the image size.
type Opacity struct {
	X, Y, Radius float64
	Intensity    uint8
}

// XrayConfig describes a synthetic frontal chest radiograph.
type XrayConfig struct {
	Width, Height int
	Seed          uint64
	Noise         float64 // standard deviation in gray levels
	Blur          float64 // gaussian sigma applied last, 0 = none
	Opacities     []Opacity
}

// DefaultXrayConfig returns a 256x256 image with light noise and a single
// opacity in the right lower lung field.
func DefaultXrayConfig() XrayConfig {
	return XrayConfig{
		Width:     256,
		Height:    256,
		Seed:      1,
		Noise:     4,
		Blur:      1.5,
		Opacities: []Opacity{{X: 0.32, Y: 0.62, Radius: 0.09, Intensity: 210}},
	}
}

// GenerateXray draws a grayscale radiograph: bright mediastinum and soft
// tissue, two dark lung fields and the configured opacities.
func GenerateXray(cfg XrayConfig) *image.Gray {
	w, h := cfg.Width, cfg.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	fw, fh := float64(w), float64(h)
	for y := range h {
		for x := range w {
			u, v := float64(x)/fw, float64(y)/fh
			g := 170.0
			if inEllipse(u, v, 0.30, 0.50, 0.16, 0.32) || inEllipse(u, v, 0.70, 0.50, 0.16, 0.32) {
				g = 55
			}
			for _, o := range cfg.Opacities {
				if math.Hypot(u-o.X, v-o.Y) <= o.Radius {
					g = float64(o.Intensity)
				}
			}
			if cfg.Noise > 0 {
				g += rng.NormFloat64() * cfg.Noise
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, g)))})
		}
	}
	if cfg.Blur > 0 {
		return toGray(imaging.Blur(img, cfg.Blur))
	}
	return img
}

// Xray returns the default synthetic radiograph at the given size.
func Xray(width, height int) *image.Gray {
	cfg := DefaultXrayConfig()
	cfg.Width, cfg.Height = width, height
	return GenerateXray(cfg)
}

func inEllipse(u, v, cx, cy, rx, ry float64) bool {
	du, dv := (u-cx)/rx, (v-cy)/ry
	return du*du+dv*dv <= 1
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			out.Set(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}

// SaveImage encodes img as PNG at path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	f, err := os.Create(path) //nolint:gosec // G304: test output path
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// WriteXrays writes n distinct radiographs named xray_<i>.png to dir.
func WriteXrays(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range n {
		cfg := DefaultXrayConfig()
		cfg.Width, cfg.Height = 96, 96
		cfg.Seed = uint64(i + 1) //nolint:gosec // G115: small loop index
		cfg.Opacities[0].X = 0.25 + 0.5*float64(i%2)
		paths[i] = filepath.Join(dir, "xray_"+string(rune('a'+i%26))+".png")
		SaveImage(t, GenerateXray(cfg), paths[i])
	}
	return paths
}

// MeanAbsDiff returns the mean absolute per-channel difference in 8-bit
// levels, or -1 when the bounds differ.
func MeanAbsDiff(a, b image.Image) float64 {
	if a.Bounds().Size() != b.Bounds().Size() {
		return -1
	}
	ab, bb := a.Bounds(), b.Bounds()
	var sum float64
	n := 0
	for y := range ab.Dy() {
		for x := range ab.Dx() {
			r1, g1, b1, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			sum += math.Abs(float64(r1>>8)-float64(r2>>8)) +
				math.Abs(float64(g1>>8)-float64(g2>>8)) +
				math.Abs(float64(b1>>8)-float64(b2>>8))
			n += 3
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
