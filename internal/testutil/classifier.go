package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/refmodel"
)

// ErrNoGradients is returned by a Restricted classifier for disabled calls.
var ErrNoGradients = errors.New("gradients disabled")

// Labels is a small label set used across tests.
var Labels = []string{"Atelectasis", "Cardiomegaly", "Effusion", "Mass", "Pneumonia"}

// ReferenceWeights returns reference weights with a 32x32 input and a 4x4
// feature grid. Each feature channel passes one color channel through and
// every head row is positive, so brighter inputs raise every probability and
// on any non-black input later labels score higher than earlier ones.
func ReferenceWeights() *refmodel.Weights {
	w := &refmodel.Weights{
		Labels:     append([]string(nil), Labels...),
		InputSize:  32,
		Grid:       4,
		Projection: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Head:       make([][]float64, len(Labels)),
		HeadBias:   make([]float64, len(Labels)),
	}
	for i := range w.Head {
		s := 0.5 * float64(i+1)
		w.Head[i] = []float64{s, s / 2, s / 4}
		w.HeadBias[i] = -1
	}
	return w
}

// ReferenceClassifier builds a reference model from ReferenceWeights.
func ReferenceClassifier(t *testing.T) *refmodel.Model {
	t.Helper()
	m, err := refmodel.New(ReferenceWeights())
	require.NoError(t, err)
	return m
}

// Restricted wraps a classifier and can switch off its gradient calls.
type Restricted struct {
	classifier.Classifier
	NoLayerGradients bool
	NoInputGradients bool
	PanicLayer       bool
}

// Restrict wraps clf with every call enabled.
func Restrict(clf classifier.Classifier) *Restricted {
	return &Restricted{Classifier: clf}
}

// Unwrap returns the wrapped classifier.
func (r *Restricted) Unwrap() classifier.Classifier { return r.Classifier }

func (r *Restricted) LayerGradients(x *classifier.Tensor, layer string, class int) (*classifier.LayerGradients, error) {
	if r.PanicLayer {
		panic("layer gradients exploded")
	}
	if r.NoLayerGradients {
		return nil, ErrNoGradients
	}
	return r.Classifier.LayerGradients(x, layer, class)
}

func (r *Restricted) InputGradients(x *classifier.Tensor, class int) (*classifier.Tensor, error) {
	if r.NoInputGradients {
		return nil, ErrNoGradients
	}
	return r.Classifier.InputGradients(x, class)
}
