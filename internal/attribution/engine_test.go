package attribution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "gradcam": ModeGradCAM, " saliency ": ModeSaliency} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("lime")
	assert.Error(t, err)
}

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"missing layer", func(c *Config) { c.Layer = "conv9_block1" }, "layer"},
		{"pooled layer", func(c *Config) { c.Layer = "avg_pool" }, "layer"},
		{"even kernel", func(c *Config) { c.BlurKernel = 10 }, "blur_kernel"},
		{"zero kernel", func(c *Config) { c.BlurKernel = 0 }, "blur_kernel"},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }, "epsilon"},
		{"bad mode", func(c *Config) { c.Mode = "occlusion" }, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(newFakeClassifier(), cfg)
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}

	cfg := DefaultConfig()
	cfg.Layer = "nope"
	_, err := NewEngine(newFakeClassifier(), cfg)
	assert.ErrorIs(t, err, classifier.ErrLayerNotFound)
}

func TestNewEngine_ResolvesNestedLayer(t *testing.T) {
	e, err := NewEngine(newFakeClassifier(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "densenet121/conv5_block16_2_conv", e.Layer().Name)
}

func TestExplain_PrimaryStrategy(t *testing.T) {
	f := newFakeClassifier()
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	res := e.Explain(testInput(f), 0)
	assert.False(t, res.Degraded)
	assert.Equal(t, "gradcam", res.Strategy)
	assert.NoError(t, res.Cause)
	assert.InDeltaSlice(t, []float32{1, 0.5, 0, 0}, res.Map.Data, 1e-6)
}

func TestExplain_FallsBackToSaliency(t *testing.T) {
	f := newFakeClassifier()
	f.layerErr = errNoGraph
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	res := e.Explain(testInput(f), 0)
	assert.False(t, res.Degraded)
	assert.Equal(t, "saliency", res.Strategy)
	assert.Equal(t, float32(1), res.Map.Max())
	assert.Equal(t, 16, res.Map.Width)
	assert.ErrorIs(t, res.Cause, errNoGraph)
}

func TestExplain_RecoversPanickingStrategy(t *testing.T) {
	f := newFakeClassifier()
	f.panicLayer = true
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	var res Result
	require.NotPanics(t, func() { res = e.Explain(testInput(f), 1) })
	assert.Equal(t, "saliency", res.Strategy)
	assert.ErrorIs(t, res.Cause, ErrGradientUnavailable)
}

// outOfRange returns a map with a cell above 1.
type outOfRange struct{}

func (outOfRange) Name() string { return "outofrange" }

func (outOfRange) Attribute(classifier.Classifier, *classifier.Tensor, int) (*heatmap.Map, error) {
	return &heatmap.Map{Width: 2, Height: 1, Data: []float32{0.5, 2}}, nil
}

func TestExplain_RejectsInvalidMap(t *testing.T) {
	f := newFakeClassifier()
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)
	e.strategies = []Strategy{outOfRange{}, e.strategies[1]}

	res := e.Explain(testInput(f), 0)
	assert.False(t, res.Degraded)
	assert.Equal(t, "saliency", res.Strategy)
	require.Error(t, res.Cause)
	assert.Contains(t, res.Cause.Error(), "invalid map")
	assert.NoError(t, res.Map.Validate())

	e.strategies = []Strategy{outOfRange{}}
	res = e.Explain(testInput(f), 0)
	assert.True(t, res.Degraded)
	assert.True(t, res.Map.IsZero())
}

func TestExplain_Degraded(t *testing.T) {
	f := newFakeClassifier()
	f.layerErr = errNoGraph
	f.inputErr = errors.New("input gradients disabled")
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	res := e.Explain(testInput(f), 0)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Strategy)
	assert.Equal(t, 2, res.Map.Width)
	assert.Equal(t, 2, res.Map.Height)
	assert.True(t, res.Map.IsZero())
	assert.ErrorIs(t, res.Cause, ErrAttributionDegraded)
	assert.ErrorIs(t, res.Cause, errNoGraph)
}

func TestExplain_ModeRestrictsStrategies(t *testing.T) {
	f := newFakeClassifier()
	f.layerErr = errNoGraph
	cfg := DefaultConfig()
	cfg.Mode = ModeGradCAM
	e, err := NewEngine(f, cfg)
	require.NoError(t, err)
	assert.True(t, e.Explain(testInput(f), 0).Degraded)

	cfg.Mode = ModeSaliency
	e, err = NewEngine(f, cfg)
	require.NoError(t, err)
	res := e.Explain(testInput(f), 0)
	assert.Equal(t, "saliency", res.Strategy)
}

func TestExplain_InvalidClassDegrades(t *testing.T) {
	f := newFakeClassifier()
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	res := e.Explain(testInput(f), 5)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Cause, classifier.ErrClassOutOfRange)
}

func TestExplain_Deterministic(t *testing.T) {
	f := newFakeClassifier()
	f.layerErr = errNoGraph
	e, err := NewEngine(f, DefaultConfig())
	require.NoError(t, err)

	a := e.Explain(testInput(f), 1)
	b := e.Explain(testInput(f), 1)
	assert.Equal(t, a.Map.Data, b.Map.Data)
}
