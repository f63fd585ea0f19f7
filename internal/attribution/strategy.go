package attribution

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

// Strategy computes a normalized relevance map for one class.
type Strategy interface {
	Name() string
	Attribute(clf classifier.Classifier, x *classifier.Tensor, class int) (*heatmap.Map, error)
}

// GradCAM weights the channels of an intermediate layer by the spatially
// averaged gradient of the class output and keeps the positive part of the
// weighted sum.
type GradCAM struct {
	Layer   string
	Epsilon float64
}

// Name implements Strategy.
func (GradCAM) Name() string { return "gradcam" }

// Attribute implements Strategy.
func (g GradCAM) Attribute(clf classifier.Classifier, x *classifier.Tensor, class int) (*heatmap.Map, error) {
	lg, err := clf.LayerGradients(x, g.Layer, class)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGradientUnavailable, err)
	}
	if lg == nil || lg.Activations == nil || lg.Gradients == nil {
		return nil, fmt.Errorf("%w: layer %q returned no gradients", ErrGradientUnavailable, g.Layer)
	}
	n, h, w, k, err := lg.Activations.NHWC()
	if err != nil {
		return nil, fmt.Errorf("activations: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("activations batch %d != 1", n)
	}
	if !lg.Gradients.Shape.Equal(lg.Activations.Shape) || len(lg.Gradients.Data) != len(lg.Activations.Data) {
		return nil, fmt.Errorf("%w: gradient shape %v != activation shape %v",
			ErrGradientUnavailable, lg.Gradients.Shape, lg.Activations.Shape)
	}
	if !lg.Gradients.Finite() {
		return nil, fmt.Errorf("%w: non-finite gradient", ErrGradientUnavailable)
	}
	if !lg.Activations.Finite() {
		return nil, fmt.Errorf("non-finite activations in layer %q", g.Layer)
	}

	cells := h * w
	weights := make([]float64, k)
	for p := 0; p < cells; p++ {
		off := p * k
		for c := 0; c < k; c++ {
			weights[c] += float64(lg.Gradients.Data[off+c])
		}
	}
	for c := range weights {
		weights[c] /= float64(cells)
	}

	m := heatmap.Zero(w, h)
	for p := 0; p < cells; p++ {
		off := p * k
		var acc float64
		for c := 0; c < k; c++ {
			acc += weights[c] * float64(lg.Activations.Data[off+c])
		}
		m.Data[p] = float32(math.Max(0, acc))
	}

	if err := normalize(m, g.Epsilon); err != nil {
		return nil, err
	}
	return m, nil
}

// Saliency takes the absolute input gradient, keeps the strongest color
// channel per pixel and smooths the result with a Gaussian blur.
type Saliency struct {
	Epsilon    float64
	BlurKernel int
	BlurSigma  float64
}

// Name implements Strategy.
func (Saliency) Name() string { return "saliency" }

// Attribute implements Strategy.
func (s Saliency) Attribute(clf classifier.Classifier, x *classifier.Tensor, class int) (*heatmap.Map, error) {
	grad, err := clf.InputGradients(x, class)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGradientUnavailable, err)
	}
	if grad == nil {
		return nil, fmt.Errorf("%w: no input gradient", ErrGradientUnavailable)
	}
	if !grad.Shape.Equal(x.Shape) {
		return nil, fmt.Errorf("%w: gradient shape %v != input shape %v", ErrGradientUnavailable, grad.Shape, x.Shape)
	}
	_, h, w, ch, err := grad.NHWC()
	if err != nil {
		return nil, fmt.Errorf("input gradient: %w", err)
	}
	if !grad.Finite() {
		return nil, fmt.Errorf("%w: non-finite input gradient", ErrGradientUnavailable)
	}

	m := heatmap.Zero(w, h)
	for p := 0; p < h*w; p++ {
		off := p * ch
		var best float32
		for c := 0; c < ch; c++ {
			v := grad.Data[off+c]
			if v < 0 {
				v = -v
			}
			if v > best {
				best = v
			}
		}
		m.Data[p] = best
	}

	gaussianBlur(m, s.BlurKernel, s.BlurSigma)

	if err := normalize(m, s.Epsilon); err != nil {
		return nil, err
	}
	return m, nil
}
