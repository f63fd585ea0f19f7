package refmodel

import (
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights is the serialized form of a reference model.
type Weights struct {
	Labels         []string    `yaml:"labels"`
	InputSize      int         `yaml:"input_size"`
	Grid           int         `yaml:"grid"`
	Projection     [][]float64 `yaml:"projection"`      // channels x 3
	ProjectionBias []float64   `yaml:"projection_bias"` // channels
	Head           [][]float64 `yaml:"head"`            // labels x channels
	HeadBias       []float64   `yaml:"head_bias"`       // labels
}

// Validate checks dimensions.
func (w *Weights) Validate() error {
	n := len(w.Labels)
	if n == 0 {
		return fmt.Errorf("refmodel: no labels")
	}
	if w.Grid < 2 {
		return fmt.Errorf("refmodel: grid must be >= 2, got %d", w.Grid)
	}
	if w.InputSize < w.Grid {
		return fmt.Errorf("refmodel: input size %d smaller than grid %d", w.InputSize, w.Grid)
	}
	k := len(w.Projection)
	if k == 0 {
		return fmt.Errorf("refmodel: empty projection")
	}
	for i, row := range w.Projection {
		if len(row) != 3 {
			return fmt.Errorf("refmodel: projection row %d has %d columns, want 3", i, len(row))
		}
	}
	if len(w.ProjectionBias) != 0 && len(w.ProjectionBias) != k {
		return fmt.Errorf("refmodel: projection bias has %d entries, want %d", len(w.ProjectionBias), k)
	}
	if len(w.Head) != n {
		return fmt.Errorf("refmodel: head has %d rows, want %d", len(w.Head), n)
	}
	for i, row := range w.Head {
		if len(row) != k {
			return fmt.Errorf("refmodel: head row %d has %d columns, want %d", i, len(row), k)
		}
	}
	if len(w.HeadBias) != 0 && len(w.HeadBias) != n {
		return fmt.Errorf("refmodel: head bias has %d entries, want %d", len(w.HeadBias), n)
	}
	return nil
}

// LoadWeights reads a YAML weight file.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured model path
	if err != nil {
		return nil, fmt.Errorf("refmodel: read weights: %w", err)
	}
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("refmodel: parse %s: %w", path, err)
	}
	return &w, nil
}

// Save writes the weights as YAML.
func (w *Weights) Save(path string) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("refmodel: encode weights: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// SeededWeights generates deterministic weights for the given labels.
func SeededWeights(labels []string, inputSize, grid, channels int, seed uint64) *Weights {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := &Weights{
		Labels:         append([]string(nil), labels...),
		InputSize:      inputSize,
		Grid:           grid,
		Projection:     make([][]float64, channels),
		ProjectionBias: make([]float64, channels),
		Head:           make([][]float64, len(labels)),
		HeadBias:       make([]float64, len(labels)),
	}
	for i := range w.Projection {
		w.Projection[i] = []float64{r.Float64()*2 - 1, r.Float64()*2 - 1, r.Float64()*2 - 1}
		w.ProjectionBias[i] = r.Float64()*0.2 - 0.1
	}
	for i := range w.Head {
		w.Head[i] = make([]float64, channels)
		for j := range w.Head[i] {
			w.Head[i][j] = r.NormFloat64() * 2
		}
		w.HeadBias[i] = r.NormFloat64() * 0.1
	}
	return w
}
