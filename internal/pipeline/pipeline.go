// Package pipeline wires preprocessing, classification, ranking, attribution
// and overlay compositing into an Analyzer.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/toraxia/internal/attribution"
	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
	"github.com/MeKo-Tech/toraxia/internal/models"
	"github.com/MeKo-Tech/toraxia/internal/onnx"
	"github.com/MeKo-Tech/toraxia/internal/overlay"
	"github.com/MeKo-Tech/toraxia/internal/preprocess"
	"github.com/MeKo-Tech/toraxia/internal/ranking"
	"github.com/MeKo-Tech/toraxia/internal/refmodel"
)

// Classifier backends.
const (
	BackendONNX      = "onnx"
	BackendReference = "reference"
)

// DefaultTopK is the number of findings reported per analysis.
const DefaultTopK = 5

// Reference model shape used when no weights file is present.
const (
	referenceGrid     = 7
	referenceChannels = 16
	referenceSeed     = 1
)

// ModelConfig selects and locates the classifier.
type ModelConfig struct {
	Backend        string
	Path           string // classifier.onnx or reference weights
	GradientPath   string
	ConfigPath     string // model_config.json
	ThresholdsPath string // THRESHOLDS.json
	NumThreads     int
	GPU            onnx.GPUConfig
}

// Config holds configuration for the analyzer and its components.
type Config struct {
	ModelsDir   string
	Model       ModelConfig
	Preprocess  preprocess.Config
	Attribution attribution.Config
	Alpha       float64
	Palette     string
	Resize      string
	TopK        int
}

// DefaultConfig returns a default analyzer config with component defaults.
// The preprocessing size and attribution layer are left empty so Build can
// take them from the classifier and the model description.
func DefaultConfig() Config {
	att := attribution.DefaultConfig()
	att.Layer = ""
	pre := preprocess.DefaultConfig()
	pre.Width, pre.Height = 0, 0
	return Config{
		ModelsDir:   models.GetModelsDir(""),
		Model:       ModelConfig{Backend: BackendONNX, GPU: onnx.DefaultGPUConfig()},
		Preprocess:  pre,
		Attribution: att,
		Alpha:       overlay.DefaultAlpha,
		Palette:     overlay.DefaultPalette,
		Resize:      string(heatmap.Bilinear),
		TopK:        DefaultTopK,
	}
}

// Builder constructs an Analyzer with fluent configuration.
type Builder struct {
	cfg Config
	clf classifier.Classifier
}

// NewBuilder creates a new analyzer builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithModelsDir sets the directory model files are resolved against.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithBackend selects "onnx" or "reference".
func (b *Builder) WithBackend(backend string) *Builder {
	if backend != "" {
		b.cfg.Model.Backend = backend
	}
	return b
}

// WithModelPath overrides the classifier model path.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Model.Path = path
	}
	return b
}

// WithGradientModelPath overrides the gradient model path.
func (b *Builder) WithGradientModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Model.GradientPath = path
	}
	return b
}

// WithThresholdsPath overrides the threshold table path.
func (b *Builder) WithThresholdsPath(path string) *Builder {
	if path != "" {
		b.cfg.Model.ThresholdsPath = path
	}
	return b
}

// WithThreads sets intra-op threads for the ONNX backend (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Model.NumThreads = n
	}
	return b
}

// WithGPU enables or disables CUDA for the ONNX backend.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Model.GPU.UseGPU = enabled
	return b
}

// WithLayer sets the attribution layer name.
func (b *Builder) WithLayer(layer string) *Builder {
	if layer != "" {
		b.cfg.Attribution.Layer = layer
	}
	return b
}

// WithMode pins the attribution mode.
func (b *Builder) WithMode(mode attribution.Mode) *Builder {
	if mode != "" {
		b.cfg.Attribution.Mode = mode
	}
	return b
}

// WithAlpha sets the overlay heatmap weight.
func (b *Builder) WithAlpha(alpha float64) *Builder {
	b.cfg.Alpha = alpha
	return b
}

// WithPalette selects the overlay palette.
func (b *Builder) WithPalette(name string) *Builder {
	if name != "" {
		b.cfg.Palette = name
	}
	return b
}

// WithTopK sets the number of findings reported (if >0).
func (b *Builder) WithTopK(k int) *Builder {
	if k > 0 {
		b.cfg.TopK = k
	}
	return b
}

// WithClassifier injects an already loaded classifier. The Analyzer does not
// close injected classifiers.
func (b *Builder) WithClassifier(clf classifier.Classifier) *Builder {
	b.clf = clf
	return b
}

// Config returns a copy of the current builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build loads the classifier and validates every component. Configuration
// problems are returned here rather than at request time.
func (b *Builder) Build() (*Analyzer, error) {
	cfg := b.cfg
	modelsDir := models.GetModelsDir(cfg.ModelsDir)

	mc, err := models.LoadModelConfig(models.Resolve(modelsDir, cfg.Model.ConfigPath, models.ModelConfigFile))
	if err != nil {
		return nil, err
	}
	thresholds, err := ranking.LoadThresholds(models.Resolve(modelsDir, cfg.Model.ThresholdsPath, models.ThresholdsFile))
	if err != nil {
		return nil, err
	}

	clf, owned := b.clf, false
	if clf == nil {
		clf, err = loadClassifier(cfg, modelsDir, mc)
		if err != nil {
			return nil, err
		}
		owned = true
	}

	a, err := newAnalyzer(cfg, clf, mc, thresholds)
	if err != nil {
		if owned {
			_ = clf.Close()
		}
		return nil, err
	}
	a.owned = owned
	slog.Info("Analyzer ready",
		"backend", a.info.Backend,
		"labels", len(a.info.Labels),
		"layer", a.info.Layer,
		"mode", a.info.Mode,
		"thresholds", thresholds.Len())
	return a, nil
}

func loadClassifier(cfg Config, modelsDir string, mc models.ModelConfig) (classifier.Classifier, error) {
	switch cfg.Model.Backend {
	case BackendONNX, "":
		grad := models.Resolve(modelsDir, cfg.Model.GradientPath, models.GradientModel)
		if cfg.Model.GradientPath == "" && !models.Exists(grad) {
			grad = ""
		}
		return onnx.Load(onnx.Config{
			ModelPath:         models.Resolve(modelsDir, cfg.Model.Path, models.ClassifierModel),
			GradientModelPath: grad,
			Labels:            mc.Pathologies,
			NumThreads:        cfg.Model.NumThreads,
			GPU:               cfg.Model.GPU,
		})
	case BackendReference:
		path := models.Resolve(modelsDir, cfg.Model.Path, models.ReferenceWeights)
		if models.Exists(path) {
			return refmodel.Load(path)
		}
		w, _ := mc.Size()
		slog.Warn("Reference weights not found, using seeded weights", "path", path)
		return refmodel.NewSeeded(mc.Pathologies, w, referenceGrid, referenceChannels, referenceSeed)
	default:
		return nil, fmt.Errorf("unknown model backend %q (must be %s or %s)", cfg.Model.Backend, BackendONNX, BackendReference)
	}
}

// defaultLayers are tried in order when neither the configuration nor the
// model description names an attribution layer.
var defaultLayers = []string{attribution.DefaultLayer, refmodel.FeaturesLayer}

func defaultLayer(clf classifier.Classifier) string {
	for _, name := range defaultLayers {
		if _, err := clf.Layer(name); err == nil {
			return name
		}
	}
	return attribution.DefaultLayer
}

// inputSize fills a missing preprocessing size from the classifier's input
// shape, then from the model description.
func inputSize(cfg preprocess.Config, clf classifier.Classifier, mc models.ModelConfig) preprocess.Config {
	if cfg.Width > 0 && cfg.Height > 0 {
		return cfg
	}
	if s := clf.InputShape(); len(s) == 4 && s[1] > 0 && s[2] > 0 {
		cfg.Width, cfg.Height = s[2], s[1]
		return cfg
	}
	cfg.Width, cfg.Height = mc.Size()
	return cfg
}

// backendName names the backend, looking through wrappers that expose
// Unwrap.
func backendName(clf classifier.Classifier) string {
	for {
		w, ok := clf.(interface{ Unwrap() classifier.Classifier })
		if !ok {
			break
		}
		clf = w.Unwrap()
	}
	switch clf.(type) {
	case *onnx.Classifier:
		return BackendONNX
	case *refmodel.Model:
		return BackendReference
	default:
		return fmt.Sprintf("%T", clf)
	}
}

func newAnalyzer(cfg Config, clf classifier.Classifier, mc models.ModelConfig, thresholds ranking.ThresholdTable) (*Analyzer, error) {
	if clf == nil {
		return nil, errors.New("pipeline: classifier is nil")
	}
	if n := len(mc.Pathologies); n > 0 && n != len(clf.Labels()) {
		slog.Warn("Model description lists a different number of pathologies than the classifier",
			"configured", n,
			"classifier", len(clf.Labels()))
	}
	pre, err := preprocess.New(inputSize(cfg.Preprocess, clf, mc), clf.InputShape())
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	att := cfg.Attribution
	if att.Layer == "" {
		att.Layer = mc.GradCAMLayer
	}
	if att.Layer == "" {
		att.Layer = defaultLayer(clf)
	}
	engine, err := attribution.NewEngine(clf, att)
	if err != nil {
		return nil, err
	}

	pal, err := overlay.LookupPalette(cfg.Palette)
	if err != nil {
		return nil, err
	}
	method, err := heatmap.ParseMethod(cfg.Resize)
	if err != nil {
		return nil, err
	}
	opts := overlay.Options{Alpha: cfg.Alpha, Palette: pal, Resize: method}
	if !(opts.Alpha >= 0 && opts.Alpha <= 1) {
		return nil, fmt.Errorf("overlay alpha %g outside [0,1]", opts.Alpha)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	w, h := pre.Size()
	return &Analyzer{
		clf:        clf,
		pre:        pre,
		engine:     engine,
		thresholds: thresholds,
		overlay:    opts,
		topK:       topK,
		info: ModelInfo{
			Backend:      backendName(clf),
			Architecture: mc.Architecture,
			Version:      mc.Version,
			Labels:       clf.Labels(),
			InputWidth:   w,
			InputHeight:  h,
			Layer:        engine.Layer().Name,
			Mode:         string(engine.Config().Mode),
			Palette:      pal.Name(),
			Alpha:        opts.Alpha,
		},
	}, nil
}
