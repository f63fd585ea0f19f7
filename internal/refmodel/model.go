// Package refmodel is a small differentiable image classifier with exact
// analytic gradients. It backs tests and the "reference" model backend.
//
// Architecture: grid average pooling, per-cell linear projection with ReLU
// (layer "backbone/features", g x g x k), global average pooling (layer
// "backbone/pool", 1 x 1 x k), dense head and sigmoid.
package refmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

const (
	FeaturesLayer = "backbone/features"
	PoolLayer     = "backbone/pool"
)

// Model implements classifier.Classifier. It is immutable and safe for
// concurrent use.
type Model struct {
	labels   []string
	size     int
	grid     int
	k        int
	proj     *mat.Dense    // k x 3
	projBias *mat.VecDense // k
	head     *mat.Dense    // n x k
	headBias *mat.VecDense // n
	layers   []classifier.LayerInfo
}

var _ classifier.Classifier = (*Model)(nil)

// New builds a model from weights.
func New(w *Weights) (*Model, error) {
	if w == nil {
		return nil, fmt.Errorf("refmodel: nil weights")
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	k, n := len(w.Projection), len(w.Labels)
	m := &Model{
		labels:   append([]string(nil), w.Labels...),
		size:     w.InputSize,
		grid:     w.Grid,
		k:        k,
		proj:     mat.NewDense(k, 3, nil),
		projBias: mat.NewVecDense(k, nil),
		head:     mat.NewDense(n, k, nil),
		headBias: mat.NewVecDense(n, nil),
	}
	for i, row := range w.Projection {
		m.proj.SetRow(i, row)
	}
	for i, v := range w.ProjectionBias {
		m.projBias.SetVec(i, v)
	}
	for i, row := range w.Head {
		m.head.SetRow(i, row)
	}
	for i, v := range w.HeadBias {
		m.headBias.SetVec(i, v)
	}
	m.layers = []classifier.LayerInfo{
		{Name: FeaturesLayer, Shape: classifier.Shape{1, w.Grid, w.Grid, k}},
		{Name: PoolLayer, Shape: classifier.Shape{1, 1, 1, k}},
	}
	return m, nil
}

// Load reads weights from a YAML file and builds the model.
func Load(path string) (*Model, error) {
	w, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	return New(w)
}

// NewSeeded builds a model with deterministic pseudo-random weights.
func NewSeeded(labels []string, inputSize, grid, channels int, seed uint64) (*Model, error) {
	return New(SeededWeights(labels, inputSize, grid, channels, seed))
}

func (m *Model) Labels() []string { return append([]string(nil), m.labels...) }

func (m *Model) InputShape() classifier.Shape { return classifier.Shape{1, m.size, m.size, 3} }

// Layers lists the named intermediate stages.
func (m *Model) Layers() []classifier.LayerInfo {
	return append([]classifier.LayerInfo(nil), m.layers...)
}

func (m *Model) Layer(name string) (classifier.LayerInfo, error) {
	return classifier.ResolveLayer(m.layers, name)
}

func (m *Model) Close() error { return nil }

// pass holds the intermediate values of one forward evaluation.
type pass struct {
	cellMeans *mat.Dense // g*g x 3
	pre       *mat.Dense // g*g x k
	act       *mat.Dense // g*g x k
	pooled    *mat.VecDense
	probs     []float64
}

func (m *Model) cellBounds(i int) (int, int) {
	return i * m.size / m.grid, (i + 1) * m.size / m.grid
}

func (m *Model) checkInput(x *classifier.Tensor) error {
	if x == nil {
		return fmt.Errorf("refmodel: nil input")
	}
	if !x.Shape.Equal(m.InputShape()) || len(x.Data) != x.Shape.Size() {
		return fmt.Errorf("refmodel: input shape %v, want %v", x.Shape, m.InputShape())
	}
	return nil
}

func (m *Model) forward(x *classifier.Tensor) (*pass, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	g := m.grid
	cells := g * g
	means := mat.NewDense(cells, 3, nil)
	for ci := range g {
		y0, y1 := m.cellBounds(ci)
		for cj := range g {
			x0, x1 := m.cellBounds(cj)
			var sum [3]float64
			for y := y0; y < y1; y++ {
				for xx := x0; xx < x1; xx++ {
					off := (y*m.size + xx) * 3
					sum[0] += float64(x.Data[off])
					sum[1] += float64(x.Data[off+1])
					sum[2] += float64(x.Data[off+2])
				}
			}
			area := float64((y1 - y0) * (x1 - x0))
			means.SetRow(ci*g+cj, []float64{sum[0] / area, sum[1] / area, sum[2] / area})
		}
	}

	pre := mat.NewDense(cells, m.k, nil)
	pre.Mul(means, m.proj.T())
	bias := m.projBias.RawVector().Data
	act := mat.NewDense(cells, m.k, nil)
	for r := range cells {
		for c := range m.k {
			v := pre.At(r, c) + bias[c]
			pre.Set(r, c, v)
			act.Set(r, c, math.Max(0, v))
		}
	}

	pooled := mat.NewVecDense(m.k, nil)
	for c := range m.k {
		pooled.SetVec(c, mat.Sum(act.ColView(c))/float64(cells))
	}

	z := mat.NewVecDense(len(m.labels), nil)
	z.MulVec(m.head, pooled)
	z.AddVec(z, m.headBias)
	probs := make([]float64, z.Len())
	for i := range probs {
		probs[i] = 1 / (1 + math.Exp(-z.AtVec(i)))
	}
	return &pass{cellMeans: means, pre: pre, act: act, pooled: pooled, probs: probs}, nil
}

// Predict returns per-label sigmoid probabilities.
func (m *Model) Predict(x *classifier.Tensor) ([]float32, error) {
	p, err := m.forward(x)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(p.probs))
	for i, v := range p.probs {
		out[i] = float32(v)
	}
	return out, nil
}

func (m *Model) LayerOutput(x *classifier.Tensor, layer string) (*classifier.Tensor, error) {
	info, err := m.Layer(layer)
	if err != nil {
		return nil, err
	}
	p, err := m.forward(x)
	if err != nil {
		return nil, err
	}
	if info.Name == PoolLayer {
		return vecTensor(p.pooled, info.Shape), nil
	}
	return denseTensor(p.act, info.Shape), nil
}

// dPooled returns d(p_class)/d(pooled).
func (m *Model) dPooled(p *pass, class int) *mat.VecDense {
	pc := p.probs[class]
	d := mat.VecDenseCopyOf(m.head.RowView(class))
	d.ScaleVec(pc*(1-pc), d)
	return d
}

// dPre returns d(p_class)/d(pre-activation) of the features layer, plus
// d(p_class)/d(features) before the ReLU mask.
func (m *Model) dPre(p *pass, class int) (dpre, dact *mat.Dense) {
	cells := m.grid * m.grid
	dp := m.dPooled(p, class)
	dact = mat.NewDense(cells, m.k, nil)
	dpre = mat.NewDense(cells, m.k, nil)
	for r := range cells {
		for c := range m.k {
			v := dp.AtVec(c) / float64(cells)
			dact.Set(r, c, v)
			if p.pre.At(r, c) > 0 {
				dpre.Set(r, c, v)
			}
		}
	}
	return dpre, dact
}

func (m *Model) LayerGradients(x *classifier.Tensor, layer string, class int) (*classifier.LayerGradients, error) {
	info, err := m.Layer(layer)
	if err != nil {
		return nil, err
	}
	if err := classifier.CheckClass(class, len(m.labels)); err != nil {
		return nil, err
	}
	p, err := m.forward(x)
	if err != nil {
		return nil, err
	}
	if info.Name == PoolLayer {
		return &classifier.LayerGradients{
			Activations: vecTensor(p.pooled, info.Shape),
			Gradients:   vecTensor(m.dPooled(p, class), info.Shape),
		}, nil
	}
	_, dact := m.dPre(p, class)
	return &classifier.LayerGradients{
		Activations: denseTensor(p.act, info.Shape),
		Gradients:   denseTensor(dact, info.Shape),
	}, nil
}

func (m *Model) InputGradients(x *classifier.Tensor, class int) (*classifier.Tensor, error) {
	if err := classifier.CheckClass(class, len(m.labels)); err != nil {
		return nil, err
	}
	p, err := m.forward(x)
	if err != nil {
		return nil, err
	}
	dpre, _ := m.dPre(p, class)
	dm := mat.NewDense(m.grid*m.grid, 3, nil)
	dm.Mul(dpre, m.proj)

	out := classifier.Zeros(m.InputShape())
	g := m.grid
	for ci := range g {
		y0, y1 := m.cellBounds(ci)
		for cj := range g {
			x0, x1 := m.cellBounds(cj)
			area := float64((y1 - y0) * (x1 - x0))
			row := dm.RawRowView(ci*g + cj)
			for y := y0; y < y1; y++ {
				for xx := x0; xx < x1; xx++ {
					off := (y*m.size + xx) * 3
					out.Data[off] = float32(row[0] / area)
					out.Data[off+1] = float32(row[1] / area)
					out.Data[off+2] = float32(row[2] / area)
				}
			}
		}
	}
	return out, nil
}

func denseTensor(d *mat.Dense, shape classifier.Shape) *classifier.Tensor {
	r, c := d.Dims()
	out := classifier.Zeros(shape)
	for i := range r {
		for j := range c {
			out.Data[i*c+j] = float32(d.At(i, j))
		}
	}
	return out
}

func vecTensor(v *mat.VecDense, shape classifier.Shape) *classifier.Tensor {
	out := classifier.Zeros(shape)
	for i := range v.Len() {
		out.Data[i] = float32(v.AtVec(i))
	}
	return out
}
