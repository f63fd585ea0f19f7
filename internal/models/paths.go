package models

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known file names inside the models directory.
const (
	ClassifierModel  = "classifier.onnx"
	GradientModel    = "classifier_grad.onnx"
	ReferenceWeights = "reference.yaml"
	ModelConfigFile  = "model_config.json"
	ThresholdsFile   = "THRESHOLDS.json"
	DefaultModelsDir = "models"
	EnvModelsDir     = "TORAXIA_MODELS_DIR"
)

const projectMarkerGoMod = "go.mod"

// findProjectRoot walks up from the working directory to the nearest go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, projectMarkerGoMod)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (%s not found)", projectMarkerGoMod)
		}
		dir = parent
	}
}

// GetModelsDir resolves the models directory.
// Priority: 1. explicit modelsDir, 2. TORAXIA_MODELS_DIR, 3. project root + "models".
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if env := os.Getenv(EnvModelsDir); env != "" {
		return env
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// Resolve returns explicit when set, otherwise filename inside the models directory.
func Resolve(modelsDir, explicit, filename string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(GetModelsDir(modelsDir), filename)
}

// ValidateModelExists checks that a model file is present.
func ValidateModelExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", path)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
