package classifier

import (
	"errors"
	"fmt"
	"math"
)

// Shape describes tensor dimensions. Image tensors are NHWC.
type Shape []int

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes are identical.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Matches reports whether s satisfies the declared shape. Declared dimensions
// that are <= 0 are dynamic and match any size.
func (s Shape) Matches(declared Shape) bool {
	if len(s) != len(declared) {
		return false
	}
	for i := range s {
		if declared[i] > 0 && s[i] != declared[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Data  []float32
	Shape Shape
}

// NewTensor wraps data with the given shape after checking the element count.
func NewTensor(data []float32, shape Shape) (*Tensor, error) {
	if data == nil {
		return nil, errors.New("nil data")
	}
	if len(shape) == 0 {
		return nil, errors.New("empty shape")
	}
	for i, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("data length %d != expected %d for shape %v", len(data), shape.Size(), shape)
	}
	return &Tensor{Data: data, Shape: shape}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return &Tensor{Data: make([]float32, shape.Size()), Shape: append(Shape(nil), shape...)}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		Data:  append([]float32(nil), t.Data...),
		Shape: append(Shape(nil), t.Shape...),
	}
}

// NHWC returns the four dimensions of a rank-4 tensor.
func (t *Tensor) NHWC() (n, h, w, c int, err error) {
	if t == nil {
		return 0, 0, 0, 0, errors.New("nil tensor")
	}
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected rank 4 NHWC tensor, got shape %v", t.Shape)
	}
	if len(t.Data) != t.Shape.Size() {
		return 0, 0, 0, 0, fmt.Errorf("tensor data length %d != expected %d for shape %v",
			len(t.Data), t.Shape.Size(), t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Finite reports whether every element is a finite number.
func (t *Tensor) Finite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Stats computes min, max and mean for debug output.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
