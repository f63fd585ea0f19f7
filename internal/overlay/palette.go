// Package overlay colorizes attribution maps and blends them over the
// display image.
package overlay

import (
	"fmt"
	"image/color"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Palette maps a relevance index 0..255 to a color.
type Palette struct {
	name string
	lut  [256]color.NRGBA
}

// Name returns the palette name.
func (p *Palette) Name() string { return p.name }

// At returns the color for index i.
func (p *Palette) At(i uint8) color.NRGBA { return p.lut[i] }

// Value returns the color for a relevance value in [0,1], using the same
// truncating index as Blend.
func (p *Palette) Value(v float32) color.NRGBA { return p.lut[index(v)] }

type segment struct {
	x, y float64
}

// interp evaluates a piecewise-linear channel at t.
func interp(segs []segment, t float64) float64 {
	if t <= segs[0].x {
		return segs[0].y
	}
	for i := 1; i < len(segs); i++ {
		if t <= segs[i].x {
			a, b := segs[i-1], segs[i]
			return a.y + (b.y-a.y)*(t-a.x)/(b.x-a.x)
		}
	}
	return segs[len(segs)-1].y
}

var (
	jetRed   = []segment{{0, 0}, {0.35, 0}, {0.66, 1}, {0.89, 1}, {1, 0.5}}
	jetGreen = []segment{{0, 0}, {0.125, 0}, {0.375, 1}, {0.64, 1}, {0.91, 0}, {1, 0}}
	jetBlue  = []segment{{0, 0.5}, {0.11, 1}, {0.34, 1}, {0.65, 0}, {1, 0}}
)

func newJet() *Palette {
	p := &Palette{name: "jet"}
	for i := range p.lut {
		t := float64(i) / 255
		c := colorful.Color{R: interp(jetRed, t), G: interp(jetGreen, t), B: interp(jetBlue, t)}
		p.lut[i] = toNRGBA(c)
	}
	return p
}

// coolwarm anchors: blue, light gray center, red.
var coolwarmStops = [3]string{"#3b4cc0", "#dddddd", "#b40426"}

func newCoolwarm() *Palette {
	p := &Palette{name: "coolwarm"}
	var stops [3]colorful.Color
	for i, h := range coolwarmStops {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("overlay: bad palette stop %q: %v", h, err))
		}
		stops[i] = c
	}
	for i := range p.lut {
		t := float64(i) / 255
		var c colorful.Color
		if t < 0.5 {
			c = stops[0].BlendLab(stops[1], t*2)
		} else {
			c = stops[1].BlendLab(stops[2], (t-0.5)*2)
		}
		p.lut[i] = toNRGBA(c)
	}
	return p
}

func toNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

var palettes = map[string]*Palette{
	"jet":      newJet(),
	"coolwarm": newCoolwarm(),
}

// DefaultPalette is the palette used when none is configured.
const DefaultPalette = "jet"

// PaletteNames lists the registered palettes.
func PaletteNames() []string { return []string{"jet", "coolwarm"} }

// LookupPalette returns a palette by name; empty selects the default.
func LookupPalette(name string) (*Palette, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = DefaultPalette
	}
	p, ok := palettes[n]
	if !ok {
		return nil, fmt.Errorf("unknown palette %q (available: %s)", name, strings.Join(PaletteNames(), ", "))
	}
	return p, nil
}
