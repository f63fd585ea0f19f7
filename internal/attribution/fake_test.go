package attribution

import (
	"errors"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

// fakeClassifier returns canned activations and gradients.
type fakeClassifier struct {
	labels     []string
	input      classifier.Shape
	layers     []classifier.LayerInfo
	acts       *classifier.Tensor
	layerGrads *classifier.Tensor
	inputGrads *classifier.Tensor
	layerErr   error
	inputErr   error
	panicLayer bool
}

func newFakeClassifier() *fakeClassifier {
	// Layer activations (1,2,2,2): channel 0 = [4,2,0,0], channel 1 = [0,0,1,3].
	acts := &classifier.Tensor{
		Data:  []float32{4, 0, 2, 0, 0, 1, 0, 3},
		Shape: classifier.Shape{1, 2, 2, 2},
	}
	grads := &classifier.Tensor{
		Data:  []float32{1, -1, 1, -1, 1, -1, 1, -1},
		Shape: classifier.Shape{1, 2, 2, 2},
	}
	input := classifier.Shape{1, 16, 16, 3}
	ig := classifier.Zeros(input)
	// One strong pixel at (x=8, y=8) in the green channel, negative sign.
	ig.Data[(8*16+8)*3+1] = -2
	ig.Data[(2*16+3)*3+0] = 0.1

	return &fakeClassifier{
		labels: []string{"Effusion", "Mass"},
		input:  input,
		layers: []classifier.LayerInfo{
			{Name: "densenet121/conv5_block16_2_conv", Shape: classifier.Shape{1, 2, 2, 2}},
			{Name: "densenet121/avg_pool", Shape: classifier.Shape{1, 1, 1, 2}},
		},
		acts:       acts,
		layerGrads: grads,
		inputGrads: ig,
	}
}

func (f *fakeClassifier) Labels() []string             { return f.labels }
func (f *fakeClassifier) InputShape() classifier.Shape { return f.input }

func (f *fakeClassifier) Predict(*classifier.Tensor) ([]float32, error) {
	return []float32{0.7, 0.2}, nil
}

func (f *fakeClassifier) Layer(name string) (classifier.LayerInfo, error) {
	return classifier.ResolveLayer(f.layers, name)
}

func (f *fakeClassifier) LayerOutput(*classifier.Tensor, string) (*classifier.Tensor, error) {
	return f.acts.Clone(), nil
}

func (f *fakeClassifier) LayerGradients(_ *classifier.Tensor, layer string, class int) (*classifier.LayerGradients, error) {
	if f.panicLayer {
		panic("graph exploded")
	}
	if f.layerErr != nil {
		return nil, f.layerErr
	}
	if _, err := f.Layer(layer); err != nil {
		return nil, err
	}
	if err := classifier.CheckClass(class, len(f.labels)); err != nil {
		return nil, err
	}
	return &classifier.LayerGradients{Activations: f.acts.Clone(), Gradients: f.layerGrads.Clone()}, nil
}

func (f *fakeClassifier) InputGradients(_ *classifier.Tensor, class int) (*classifier.Tensor, error) {
	if f.inputErr != nil {
		return nil, f.inputErr
	}
	if err := classifier.CheckClass(class, len(f.labels)); err != nil {
		return nil, err
	}
	return f.inputGrads.Clone(), nil
}

func (f *fakeClassifier) Close() error { return nil }

var errNoGraph = errors.New("no gradient graph")

func testInput(f *fakeClassifier) *classifier.Tensor {
	return classifier.Zeros(f.input)
}
