// Package models locates model artifacts and reads the model description file.
package models

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ChestXray14 lists the ChestX-ray14 pathologies in classifier output order.
var ChestXray14 = []string{
	"Atelectasis", "Cardiomegaly", "Effusion", "Infiltration",
	"Mass", "Nodule", "Pneumonia", "Pneumothorax",
	"Consolidation", "Edema", "Emphysema", "Fibrosis",
	"Pleural_Thickening", "Hernia",
}

// ModelConfig mirrors model_config.json.
type ModelConfig struct {
	Pathologies  []string `yaml:"pathologies" json:"pathologies"`
	InputShape   []int    `yaml:"input_shape" json:"input_shape"` // H, W, C
	Architecture string   `yaml:"architecture" json:"architecture"`
	GradCAMLayer string   `yaml:"gradcam_layer,omitempty" json:"gradcam_layer,omitempty"`
	Version      string   `yaml:"version,omitempty" json:"version,omitempty"`
}

// DefaultModelConfig describes a DenseNet-121 trained on ChestX-ray14.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Pathologies:  append([]string(nil), ChestXray14...),
		InputShape:   []int{224, 224, 3},
		Architecture: "DenseNet121",
	}
}

// Validate checks the decoded description.
func (c ModelConfig) Validate() error {
	if len(c.Pathologies) == 0 {
		return errors.New("model config lists no pathologies")
	}
	seen := make(map[string]bool, len(c.Pathologies))
	for _, p := range c.Pathologies {
		if p == "" {
			return errors.New("model config contains an empty pathology name")
		}
		if seen[p] {
			return fmt.Errorf("duplicate pathology %q", p)
		}
		seen[p] = true
	}
	if len(c.InputShape) != 3 {
		return fmt.Errorf("input_shape must be [H, W, C], got %v", c.InputShape)
	}
	if c.InputShape[0] <= 0 || c.InputShape[1] <= 0 || c.InputShape[2] != 3 {
		return fmt.Errorf("input_shape %v must be positive with 3 channels", c.InputShape)
	}
	return nil
}

// Size returns the configured input width and height.
func (c ModelConfig) Size() (int, int) {
	return c.InputShape[1], c.InputShape[0]
}

// LoadModelConfig reads a JSON or YAML model description. A missing file
// yields DefaultModelConfig with a warning; missing fields take defaults.
func LoadModelConfig(path string) (ModelConfig, error) {
	def := DefaultModelConfig()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured model description
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Model config not found, using defaults", "path", path, "pathologies", len(def.Pathologies))
			return def, nil
		}
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if len(cfg.Pathologies) == 0 {
		cfg.Pathologies = def.Pathologies
	}
	if len(cfg.InputShape) == 0 {
		cfg.InputShape = def.InputShape
	}
	if cfg.Architecture == "" {
		cfg.Architecture = def.Architecture
	}
	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
