package attribution

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

func TestGradCAM_WeightedChannelSum(t *testing.T) {
	f := newFakeClassifier()
	g := GradCAM{Layer: "densenet121/conv5_block16_2_conv", Epsilon: DefaultEpsilon}

	m, err := g.Attribute(f, testInput(f), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.InDeltaSlice(t, []float32{1, 0.5, 0, 0}, m.Data, 1e-6)
	assert.Equal(t, float32(1), m.Max())
}

func TestGradCAM_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fakeClassifier)
		wantErr error
	}{
		{"backend error", func(f *fakeClassifier) { f.layerErr = errNoGraph }, ErrGradientUnavailable},
		{"all zero gradients", func(f *fakeClassifier) {
			f.layerGrads = classifier.Zeros(f.layerGrads.Shape)
		}, ErrEmptyMap},
		{"negative evidence only", func(f *fakeClassifier) {
			for i := range f.layerGrads.Data {
				f.layerGrads.Data[i] = -1
			}
		}, ErrEmptyMap},
		{"nan gradient", func(f *fakeClassifier) {
			f.layerGrads.Data[3] = float32(math.NaN())
		}, ErrGradientUnavailable},
		{"shape mismatch", func(f *fakeClassifier) {
			f.layerGrads = classifier.Zeros(classifier.Shape{1, 1, 4, 2})
		}, ErrGradientUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeClassifier()
			tt.mutate(f)
			_, err := GradCAM{Layer: DefaultLayer, Epsilon: DefaultEpsilon}.Attribute(f, testInput(f), 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSaliency_PeakAtStrongestGradient(t *testing.T) {
	f := newFakeClassifier()
	s := Saliency{Epsilon: DefaultEpsilon, BlurKernel: DefaultBlurKernel}

	m, err := s.Attribute(f, testInput(f), 1)
	require.NoError(t, err)
	assert.Equal(t, 16, m.Width)
	assert.Equal(t, 16, m.Height)
	assert.Equal(t, float32(1), m.Max())
	assert.Equal(t, float32(1), m.At(8, 8))
	assert.NoError(t, m.Validate())
	// Blur spreads the impulse to its neighbours.
	assert.Greater(t, m.At(9, 8), float32(0))
	assert.Less(t, m.At(9, 8), float32(1))
}

func TestSaliency_Failures(t *testing.T) {
	f := newFakeClassifier()
	f.inputGrads = classifier.Zeros(f.input)
	_, err := Saliency{Epsilon: DefaultEpsilon, BlurKernel: 3}.Attribute(f, testInput(f), 0)
	assert.ErrorIs(t, err, ErrEmptyMap)

	f = newFakeClassifier()
	f.inputErr = errNoGraph
	_, err = Saliency{Epsilon: DefaultEpsilon, BlurKernel: 3}.Attribute(f, testInput(f), 0)
	assert.ErrorIs(t, err, ErrGradientUnavailable)
	assert.ErrorIs(t, err, errNoGraph)

	f = newFakeClassifier()
	f.inputGrads = classifier.Zeros(classifier.Shape{1, 8, 8, 3})
	_, err = Saliency{Epsilon: DefaultEpsilon, BlurKernel: 3}.Attribute(f, testInput(f), 0)
	assert.ErrorIs(t, err, ErrGradientUnavailable)
}
