// Package attribution computes class-selective spatial explanations for a
// classifier prediction: Grad-CAM first, input-gradient saliency as fallback,
// and an all-zero degraded map when neither can be computed.
package attribution

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

const (
	// DefaultLayer is the last convolution of DenseNet-121.
	DefaultLayer = "conv5_block16_2_conv"
	// DefaultEpsilon is the floor below which a map counts as empty.
	DefaultEpsilon = 1e-10
	// DefaultBlurKernel is the saliency smoothing kernel size.
	DefaultBlurKernel = 11
)

// Mode selects which strategies the engine runs.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeGradCAM  Mode = "gradcam"
	ModeSaliency Mode = "saliency"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeGradCAM:
		return ModeGradCAM, nil
	case ModeSaliency:
		return ModeSaliency, nil
	default:
		return "", fmt.Errorf("unknown attribution mode %q (must be auto, gradcam or saliency)", s)
	}
}

// Config controls the attribution engine.
type Config struct {
	Layer      string
	Mode       Mode
	Epsilon    float64
	BlurKernel int
	BlurSigma  float64 // <= 0 derives sigma from the kernel size
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Layer:      DefaultLayer,
		Mode:       ModeAuto,
		Epsilon:    DefaultEpsilon,
		BlurKernel: DefaultBlurKernel,
	}
}

// Result is the outcome of one attribution request.
type Result struct {
	// Map is normalized to max 1, or all zero when Degraded.
	Map *heatmap.Map
	// Degraded is set when no strategy produced a map.
	Degraded bool
	// Strategy names the strategy that produced Map; empty when Degraded.
	Strategy string
	// Cause collects the strategy failures, if any.
	Cause error
}

// Engine runs attribution strategies against a shared classifier. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	clf        classifier.Classifier
	cfg        Config
	layer      classifier.LayerInfo
	strategies []Strategy
}

// NewEngine validates cfg against the classifier. Any problem is reported as
// a *ConfigurationError.
func NewEngine(clf classifier.Classifier, cfg Config) (*Engine, error) {
	if clf == nil {
		return nil, &ConfigurationError{Field: "classifier", Err: errors.New("nil classifier")}
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, &ConfigurationError{Field: "mode", Err: err}
	}
	cfg.Mode = mode
	if !(cfg.Epsilon > 0) {
		return nil, &ConfigurationError{Field: "epsilon", Err: fmt.Errorf("must be > 0, got %g", cfg.Epsilon)}
	}
	if cfg.BlurKernel < 1 || cfg.BlurKernel%2 == 0 {
		return nil, &ConfigurationError{
			Field: "blur_kernel",
			Err:   fmt.Errorf("must be a positive odd number, got %d", cfg.BlurKernel),
		}
	}

	layer, err := clf.Layer(cfg.Layer)
	if err != nil {
		return nil, &ConfigurationError{Field: "layer", Err: err}
	}
	h, w := layer.Spatial()
	if h < 1 || w < 1 || h*w <= 1 {
		return nil, &ConfigurationError{
			Field: "layer",
			Err:   fmt.Errorf("layer %q has no spatial extent (shape %v)", layer.Name, layer.Shape),
		}
	}

	e := &Engine{clf: clf, cfg: cfg, layer: layer}
	gradcam := GradCAM{Layer: layer.Name, Epsilon: cfg.Epsilon}
	saliency := Saliency{Epsilon: cfg.Epsilon, BlurKernel: cfg.BlurKernel, BlurSigma: cfg.BlurSigma}
	switch mode {
	case ModeGradCAM:
		e.strategies = []Strategy{gradcam}
	case ModeSaliency:
		e.strategies = []Strategy{saliency}
	default:
		e.strategies = []Strategy{gradcam, saliency}
	}
	return e, nil
}

// Layer returns the resolved attribution layer.
func (e *Engine) Layer() classifier.LayerInfo { return e.layer }

// Config returns the validated configuration.
func (e *Engine) Config() Config { return e.cfg }

// Explain computes the relevance map for class. It never fails: when every
// strategy fails the result is an all-zero map at the layer's resolution with
// Degraded set.
func (e *Engine) Explain(x *classifier.Tensor, class int) Result {
	var causes []error
	if x == nil {
		causes = append(causes, errors.New("nil input tensor"))
	} else if err := classifier.CheckClass(class, len(e.clf.Labels())); err != nil {
		causes = append(causes, err)
	} else {
		for _, s := range e.strategies {
			m, err := runStrategy(s, e.clf, x, class)
			if err == nil {
				return Result{Map: m, Strategy: s.Name(), Cause: errors.Join(causes...)}
			}
			slog.Debug("Attribution strategy failed", "strategy", s.Name(), "class", class, "error", err)
			causes = append(causes, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	h, w := e.layer.Spatial()
	cause := errors.Join(append([]error{ErrAttributionDegraded}, causes...)...)
	slog.Warn("Attribution degraded", "class", class, "error", cause)
	return Result{Map: heatmap.Zero(w, h), Degraded: true, Cause: cause}
}

// runStrategy turns a panic inside a strategy into an error and rejects maps
// outside [0,1].
func runStrategy(s Strategy, clf classifier.Classifier, x *classifier.Tensor, class int) (m *heatmap.Map, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: panic: %v", ErrGradientUnavailable, r)
		}
	}()
	m, err = s.Attribute(clf, x, class)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid map: %w", err)
	}
	return m, nil
}
