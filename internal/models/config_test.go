package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModelConfig(t *testing.T) {
	cfg := DefaultModelConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Pathologies, 14)
	assert.Equal(t, "Atelectasis", cfg.Pathologies[0])
	assert.Equal(t, "Hernia", cfg.Pathologies[13])
	w, h := cfg.Size()
	assert.Equal(t, 224, w)
	assert.Equal(t, 224, h)

	// defaults are copies
	cfg.Pathologies[0] = "changed"
	assert.Equal(t, "Atelectasis", ChestXray14[0])
}

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadModelConfig(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModelConfig(), cfg)

	p := filepath.Join(dir, ModelConfigFile)
	require.NoError(t, os.WriteFile(p, []byte(`{
  "pathologies": ["Effusion", "Mass"],
  "input_shape": [320, 256, 3],
  "architecture": "DenseNet121",
  "gradcam_layer": "conv5_block16_2_conv"
}`), 0o600))
	cfg, err = LoadModelConfig(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Effusion", "Mass"}, cfg.Pathologies)
	assert.Equal(t, "conv5_block16_2_conv", cfg.GradCAMLayer)
	w, h := cfg.Size()
	assert.Equal(t, 256, w)
	assert.Equal(t, 320, h)

	partial := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(partial, []byte("architecture: ResNet50\n"), 0o600))
	cfg, err = LoadModelConfig(partial)
	require.NoError(t, err)
	assert.Len(t, cfg.Pathologies, 14)
	assert.Equal(t, "ResNet50", cfg.Architecture)
}

func TestLoadModelConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"dup.json":     `{"pathologies": ["Mass", "Mass"]}`,
		"shape.json":   `{"input_shape": [224, 224, 1]}`,
		"rank.json":    `{"input_shape": [224, 224]}`,
		"garbage.json": `{"pathologies": [`,
	}
	for name, body := range tests {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		_, err := LoadModelConfig(p)
		assert.Error(t, err, name)
	}
}
