package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

// Config describes the model files backing a Classifier.
type Config struct {
	// ModelPath is the prediction model: one NHWC image input, the first
	// output holds [1, N] sigmoid probabilities. Extra rank-4 outputs are
	// exposed as layers.
	ModelPath string
	// GradientModelPath is optional. Its inputs are the image and TargetInput;
	// its outputs follow the GradSuffix convention.
	GradientModelPath string
	Labels            []string
	NumThreads        int
	GPU               GPUConfig
}

// Classifier implements classifier.Classifier on ONNX Runtime sessions.
type Classifier struct {
	labels     []string
	input      string
	inputShape classifier.Shape

	mu          sync.RWMutex
	predict     *ort.DynamicAdvancedSession
	predictOuts []string
	predictIdx  map[string]int

	grad       *ort.DynamicAdvancedSession
	gradLayout *gradLayout

	layers []classifier.LayerInfo
}

var _ classifier.Classifier = (*Classifier)(nil)

// ErrClosed is returned by inference calls after Close.
var ErrClosed = errors.New("classifier session is closed")

func specs(infos []ort.InputOutputInfo) []tensorSpec {
	out := make([]tensorSpec, len(infos))
	for i, in := range infos {
		out[i] = tensorSpec{Name: in.Name, Dims: []int64(in.Dimensions)}
	}
	return out
}

func newSession(path string, inputs, outputs []string, cfg Config) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()
	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}
	s, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("create ONNX session for %s: %w", path, err)
	}
	return s, nil
}

// Load validates the model files and opens the sessions.
func Load(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("classifier labels cannot be empty")
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := InitRuntime(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	if err := checkImageInput(inputs[0].Dimensions); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}
	if n := outputs[0].Dimensions; len(n) == 2 && n[1] > 0 && int(n[1]) != len(cfg.Labels) {
		return nil, fmt.Errorf("model predicts %d classes but %d labels are configured", n[1], len(cfg.Labels))
	}

	c := &Classifier{
		labels:     append([]string(nil), cfg.Labels...),
		input:      inputs[0].Name,
		inputShape: toShape(inputs[0].Dimensions),
		predictIdx: map[string]int{},
	}
	for i, o := range specs(outputs) {
		c.predictOuts = append(c.predictOuts, o.Name)
		c.predictIdx[o.Name] = i
		if i > 0 && len(o.Dims) == 4 {
			c.layers = append(c.layers, classifier.LayerInfo{Name: o.Name, Shape: layerShape(o.Dims)})
		}
	}
	c.predict, err = newSession(cfg.ModelPath, []string{c.input}, c.predictOuts, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.GradientModelPath != "" {
		if err := c.loadGradientModel(cfg); err != nil {
			_ = c.Close()
			return nil, err
		}
	} else {
		slog.Warn("No gradient model configured, attributions will be degraded")
	}

	slog.Info("Loaded ONNX classifier",
		"model", cfg.ModelPath, "gradient_model", cfg.GradientModelPath,
		"input", c.input, "shape", c.inputShape.String(), "labels", len(c.labels), "layers", len(c.layers))
	return c, nil
}

func (c *Classifier) loadGradientModel(cfg Config) error {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.GradientModelPath)
	if err != nil {
		return fmt.Errorf("read gradient model input/output info: %w", err)
	}
	have := map[string]bool{}
	for _, in := range inputs {
		have[in.Name] = true
	}
	if !have[c.input] || !have[TargetInput] || len(inputs) != 2 {
		return fmt.Errorf("gradient model must take inputs %q and %q", c.input, TargetInput)
	}
	layout, err := planGradientOutputs(c.input, specs(outputs))
	if err != nil {
		return err
	}
	c.grad, err = newSession(cfg.GradientModelPath, []string{c.input, TargetInput}, layout.outputs, cfg)
	if err != nil {
		return err
	}
	c.gradLayout = layout
	for _, l := range layout.layers {
		if _, dup := c.predictIdx[l.Name]; !dup {
			c.layers = append(c.layers, l)
		}
	}
	return nil
}

func (c *Classifier) Labels() []string { return append([]string(nil), c.labels...) }

func (c *Classifier) InputShape() classifier.Shape {
	return append(classifier.Shape(nil), c.inputShape...)
}

// Layers lists every named layer exposed by the models.
func (c *Classifier) Layers() []classifier.LayerInfo {
	return append([]classifier.LayerInfo(nil), c.layers...)
}

func (c *Classifier) Layer(name string) (classifier.LayerInfo, error) {
	return classifier.ResolveLayer(c.layers, name)
}

func (c *Classifier) checkInput(x *classifier.Tensor) error {
	if x == nil {
		return errors.New("nil input tensor")
	}
	if !x.Shape.Matches(c.inputShape) || len(x.Data) != x.Shape.Size() {
		return fmt.Errorf("input shape %v does not match model input %v", x.Shape, c.inputShape)
	}
	return nil
}

func toOrtShape(s classifier.Shape) ort.Shape {
	dims := make([]int64, len(s))
	for i, d := range s {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

// run executes a session and copies the requested outputs out of ORT memory.
func run(sess *ort.DynamicAdvancedSession, inputs []ort.Value, nOut int, want ...int) ([]*classifier.Tensor, error) {
	outputs := make([]ort.Value, nOut)
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()
	if err := sess.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	res := make([]*classifier.Tensor, len(want))
	for i, idx := range want {
		ft, ok := outputs[idx].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("expected float32 tensor, got %T", outputs[idx])
		}
		shape := ft.GetShape()
		res[i] = &classifier.Tensor{
			Data:  append([]float32(nil), ft.GetData()...),
			Shape: toShape([]int64(shape)),
		}
	}
	return res, nil
}

func (c *Classifier) runPredict(x *classifier.Tensor, want ...int) ([]*classifier.Tensor, error) {
	if err := c.checkInput(x); err != nil {
		return nil, err
	}
	// Close takes the write lock, so a session is never destroyed mid-run.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.predict == nil {
		return nil, ErrClosed
	}
	in, err := ort.NewTensor(toOrtShape(x.Shape), x.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()
	return run(c.predict, []ort.Value{in}, len(c.predictOuts), want...)
}

func (c *Classifier) runGradient(x *classifier.Tensor, class int, want ...string) ([]*classifier.Tensor, error) {
	if err := c.checkInput(x); err != nil {
		return nil, err
	}
	if err := classifier.CheckClass(class, len(c.labels)); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, layout := c.grad, c.gradLayout
	if sess == nil {
		if c.predict == nil {
			return nil, ErrClosed
		}
		return nil, classifier.ErrGradientsUnsupported
	}
	idx := make([]int, len(want))
	for i, name := range want {
		p, ok := layout.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: no output %q", classifier.ErrGradientsUnsupported, name)
		}
		idx[i] = p
	}

	in, err := ort.NewTensor(toOrtShape(x.Shape), x.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()
	target, err := ort.NewTensor(ort.NewShape(1, int64(len(c.labels))), oneHot(class, len(c.labels)))
	if err != nil {
		return nil, fmt.Errorf("create target tensor: %w", err)
	}
	defer func() { _ = target.Destroy() }()

	return run(sess, []ort.Value{in, target}, len(layout.outputs), idx...)
}

// Predict returns the per-label probabilities.
func (c *Classifier) Predict(x *classifier.Tensor) ([]float32, error) {
	out, err := c.runPredict(x, 0)
	if err != nil {
		return nil, err
	}
	if len(out[0].Data) != len(c.labels) {
		return nil, fmt.Errorf("model returned %d probabilities for %d labels", len(out[0].Data), len(c.labels))
	}
	return out[0].Data, nil
}

func (c *Classifier) LayerOutput(x *classifier.Tensor, layer string) (*classifier.Tensor, error) {
	info, err := c.Layer(layer)
	if err != nil {
		return nil, err
	}
	if i, ok := c.predictIdx[info.Name]; ok {
		out, err := c.runPredict(x, i)
		if err != nil {
			return nil, err
		}
		return out[0], nil
	}
	out, err := c.runGradient(x, 0, info.Name)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *Classifier) LayerGradients(x *classifier.Tensor, layer string, class int) (*classifier.LayerGradients, error) {
	info, err := c.Layer(layer)
	if err != nil {
		return nil, err
	}
	out, err := c.runGradient(x, class, info.Name, info.Name+GradSuffix)
	if err != nil {
		return nil, err
	}
	return &classifier.LayerGradients{Activations: out[0], Gradients: out[1]}, nil
}

func (c *Classifier) InputGradients(x *classifier.Tensor, class int) (*classifier.Tensor, error) {
	c.mu.RLock()
	layout := c.gradLayout
	c.mu.RUnlock()
	if layout == nil || layout.inputGrad == "" {
		return nil, classifier.ErrGradientsUnsupported
	}
	out, err := c.runGradient(x, class, layout.inputGrad)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Close destroys the sessions. The runtime environment stays initialized.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.predict != nil {
		errs = append(errs, c.predict.Destroy())
		c.predict = nil
	}
	if c.grad != nil {
		errs = append(errs, c.grad.Destroy())
		c.grad = nil
	}
	return errors.Join(errs...)
}
