package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      string
		want     string
	}{
		{"explicit directory takes precedence", "/explicit/path", "/env/path", "/explicit/path"},
		{"environment variable used when no explicit dir", "", "/env/path", "/env/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.env)
			assert.Equal(t, tt.want, GetModelsDir(tt.explicit))
		})
	}

	t.Run("project root fallback", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		got := GetModelsDir("")
		assert.Equal(t, DefaultModelsDir, filepath.Base(got))
	})
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/x/custom.onnx", Resolve("/models", "/x/custom.onnx", ClassifierModel))
	assert.Equal(t, filepath.Join("/models", ClassifierModel), Resolve("/models", "", ClassifierModel))
	assert.Equal(t, filepath.Join("/models", ThresholdsFile), Resolve("/models", "", ThresholdsFile))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ClassifierModel)
	assert.Error(t, ValidateModelExists(p))
	assert.False(t, Exists(p))

	require.NoError(t, os.WriteFile(p, []byte("onnx"), 0o600))
	assert.NoError(t, ValidateModelExists(p))
	assert.True(t, Exists(p))
	assert.False(t, Exists(dir))
}
