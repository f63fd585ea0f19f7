package onnx

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

// TargetInput is the gradient model input that selects the class, a one-hot
// [1, N] float tensor.
const TargetInput = "target"

// GradSuffix marks gradient outputs: "<layer>_grad" is d(target . y)/d(layer)
// and "<input>_grad" is the gradient with respect to the image.
const GradSuffix = "_grad"

// tensorSpec is a named model input or output.
type tensorSpec struct {
	Name string
	Dims []int64
}

func toShape(dims []int64) classifier.Shape {
	s := make(classifier.Shape, len(dims))
	for i, d := range dims {
		s[i] = int(d)
	}
	return s
}

// checkImageInput accepts a rank-4 NHWC RGB input. The channel dimension
// must be 3 or dynamic; channels-first models are rejected.
func checkImageInput(dims []int64) error {
	if len(dims) != 4 {
		return fmt.Errorf("expected 4D NHWC input, got %dD", len(dims))
	}
	if dims[3] > 0 && dims[3] != 3 {
		if dims[1] == 3 {
			return fmt.Errorf("input %v is channels-first; only NHWC models are supported", dims)
		}
		return fmt.Errorf("input %v has %d channels, expected 3", dims, dims[3])
	}
	return nil
}

// layerShape pins a dynamic batch dimension to 1.
func layerShape(dims []int64) classifier.Shape {
	s := toShape(dims)
	if len(s) == 4 && s[0] <= 0 {
		s[0] = 1
	}
	return s
}

// gradLayout is the output plan of a gradient model.
type gradLayout struct {
	outputs   []string       // session output order
	index     map[string]int // output name -> position
	layers    []classifier.LayerInfo
	inputGrad string // empty when the model has no input gradient
}

// planGradientOutputs pairs every rank-4 output L with its "L_grad" partner.
// Outputs without a partner are ignored.
func planGradientOutputs(input string, outputs []tensorSpec) (*gradLayout, error) {
	byName := make(map[string]tensorSpec, len(outputs))
	for _, o := range outputs {
		byName[o.Name] = o
	}
	g := &gradLayout{index: map[string]int{}}
	add := func(name string) {
		if _, ok := g.index[name]; !ok {
			g.index[name] = len(g.outputs)
			g.outputs = append(g.outputs, name)
		}
	}
	for _, o := range outputs {
		if strings.HasSuffix(o.Name, GradSuffix) {
			continue
		}
		grad, ok := byName[o.Name+GradSuffix]
		if !ok || len(o.Dims) != 4 {
			continue
		}
		if !equalDims(o.Dims, grad.Dims) {
			return nil, fmt.Errorf("gradient output %s dims %v do not match %s dims %v",
				grad.Name, grad.Dims, o.Name, o.Dims)
		}
		add(o.Name)
		add(grad.Name)
		g.layers = append(g.layers, classifier.LayerInfo{Name: o.Name, Shape: layerShape(o.Dims)})
	}
	if _, ok := byName[input+GradSuffix]; ok {
		g.inputGrad = input + GradSuffix
		add(g.inputGrad)
	}
	if len(g.outputs) == 0 {
		return nil, fmt.Errorf("gradient model exposes no %q outputs", GradSuffix)
	}
	return g, nil
}

func equalDims(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && a[i] > 0 && b[i] > 0 {
			return false
		}
	}
	return true
}

// oneHot builds the target vector for class.
func oneHot(class, n int) []float32 {
	t := make([]float32, n)
	t[class] = 1
	return t
}
