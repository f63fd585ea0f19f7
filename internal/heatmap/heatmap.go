// Package heatmap holds the attribution map type and rescales maps to display
// resolution.
package heatmap

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Map is a 2D grid of non-negative relevance scores stored row-major.
type Map struct {
	Width  int
	Height int
	Data   []float32
}

// Zero returns an all-zero map; non-positive sizes collapse to 1x1.
func Zero(w, h int) *Map {
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	return &Map{Width: w, Height: h, Data: make([]float32, w*h)}
}

// At returns the value at column x, row y.
func (m *Map) At(x, y int) float32 { return m.Data[y*m.Width+x] }

// Set stores v at column x, row y.
func (m *Map) Set(x, y int, v float32) { m.Data[y*m.Width+x] = v }

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	return &Map{Width: m.Width, Height: m.Height, Data: append([]float32(nil), m.Data...)}
}

// Max returns the largest cell value, 0 for an empty map.
func (m *Map) Max() float32 {
	if len(m.Data) == 0 {
		return 0
	}
	v := m.Data[0]
	for _, d := range m.Data[1:] {
		if d > v {
			v = d
		}
	}
	return v
}

// Min returns the smallest cell value, 0 for an empty map.
func (m *Map) Min() float32 {
	if len(m.Data) == 0 {
		return 0
	}
	v := m.Data[0]
	for _, d := range m.Data[1:] {
		if d < v {
			v = d
		}
	}
	return v
}

// Mean returns the average cell value.
func (m *Map) Mean() float64 {
	if len(m.Data) == 0 {
		return 0
	}
	return floats.Sum(m.float64s()) / float64(len(m.Data))
}

// IsZero reports whether every cell is exactly zero.
func (m *Map) IsZero() bool {
	for _, v := range m.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// Validate checks dimensions and that all values lie in [0,1].
func (m *Map) Validate() error {
	if m == nil {
		return errors.New("nil map")
	}
	if m.Width <= 0 || m.Height <= 0 || len(m.Data) != m.Width*m.Height {
		return fmt.Errorf("malformed map %dx%d with %d cells", m.Width, m.Height, len(m.Data))
	}
	for i, v := range m.Data {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("cell %d out of range: %v", i, v)
		}
	}
	return nil
}

func (m *Map) float64s() []float64 {
	out := make([]float64, len(m.Data))
	for i, v := range m.Data {
		out[i] = float64(v)
	}
	return out
}
