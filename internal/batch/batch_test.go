package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/testutil"
)

func newAnalyzer(t *testing.T) *pipeline.Analyzer {
	t.Helper()
	a, err := pipeline.NewBuilder().
		WithModelsDir(testutil.ModelsDir(t)).
		WithClassifier(testutil.ReferenceClassifier(t)).
		Build()
	require.NoError(t, err)
	return a
}

func testConfig() *Config {
	c := DefaultConfig()
	c.Workers = 2
	c.Quiet = true
	return c
}

func TestProcessWithAnalyzer(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WriteXrays(t, dir, 3)
	overlays := filepath.Join(t.TempDir(), "overlays")

	cfg := testConfig()
	cfg.Classes = []string{"masa"}
	cfg.Language = "es"
	cfg.OverlayDir = overlays

	res, err := ProcessWithAnalyzer(t.Context(), newAnalyzer(t), []string{dir}, cfg)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Empty(t, res.Failures)
	assert.Equal(t, paths, res.ImagePaths)
	assert.Equal(t, 2, res.WorkerCount)

	for i, r := range res.Results {
		assert.Equal(t, paths[i], r.File)
		assert.Equal(t, "Pneumonia", r.Top.Class)
		require.Len(t, r.Explanations, 2)
		assert.Equal(t, "Masa", r.Explanations[1].DisplayName)
		for _, ex := range r.Explanations {
			assert.True(t, testutil.FileExists(ex.OverlayPath), ex.OverlayPath)
		}
	}
	assert.FileExists(t, filepath.Join(overlays, "xray_a_Pneumonia.png"))
	assert.FileExists(t, filepath.Join(overlays, "xray_a_Mass.png"))
}

func TestProcessWithAnalyzer_Failures(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteXrays(t, dir, 2)
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o600))
	small := filepath.Join(dir, "small.png")
	testutil.SaveImage(t, testutil.Xray(8, 8), small)

	a := newAnalyzer(t)

	t.Run("continue on error", func(t *testing.T) {
		res, err := ProcessWithAnalyzer(t.Context(), a, []string{dir}, testConfig())
		require.NoError(t, err)
		assert.Len(t, res.Results, 2)
		require.Len(t, res.Failures, 2)
		assert.Equal(t, broken, res.Failures[0].File)
		assert.Equal(t, small, res.Failures[1].File)
		assert.Contains(t, res.Failures[1].Error, "too small")
	})

	t.Run("stop on error", func(t *testing.T) {
		cfg := testConfig()
		cfg.ContinueOnError = false
		res, err := ProcessWithAnalyzer(t.Context(), a, []string{dir}, cfg)
		require.Error(t, err)
		assert.Nil(t, res)
	})
}

func TestProcessWithAnalyzer_Errors(t *testing.T) {
	a := newAnalyzer(t)

	_, err := ProcessWithAnalyzer(t.Context(), a, []string{t.TempDir()}, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image files found")

	_, err = ProcessWithAnalyzer(t.Context(), a, []string{"/nonexistent/chest.png"}, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")

	dir := t.TempDir()
	testutil.WriteXrays(t, dir, 1)
	cfg := testConfig()
	cfg.Classes = []string{"Fracture"}
	_, err = ProcessWithAnalyzer(t.Context(), a, []string{dir}, cfg)
	require.ErrorIs(t, err, pipeline.ErrUnknownClass)

	cfg = testConfig()
	cfg.Format = "xml"
	_, err = ProcessWithAnalyzer(t.Context(), a, []string{dir}, cfg)
	require.Error(t, err)
}

func TestProcessWithAnalyzer_Cancelled(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteXrays(t, dir, 2)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := ProcessWithAnalyzer(ctx, newAnalyzer(t), []string{dir}, testConfig())
	require.Error(t, err)
}

func TestProcessBatch_ReferenceBackend(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteXrays(t, dir, 2)

	cfg := testConfig()
	cfg.Pipeline.ModelsDir = testutil.ModelsDir(t)
	cfg.Pipeline.Model.Backend = pipeline.BackendReference

	res, err := ProcessBatch(t.Context(), []string{dir}, cfg)
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.Len(t, r.Findings, pipeline.DefaultTopK)
	}
}

func TestProcessBatch_BadBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.ModelsDir = testutil.ModelsDir(t)
	cfg.Pipeline.Model.Backend = "tflite"
	_, err := ProcessBatch(t.Context(), []string{t.TempDir()}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build analyzer")
}

func TestSaveResults(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteXrays(t, dir, 1)
	res, err := ProcessWithAnalyzer(t.Context(), newAnalyzer(t), []string{dir}, testConfig())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, res.SaveResults(&out, FormatCSV, "", false))
	assert.Contains(t, out.String(), "file,id,rank")

	out.Reset()
	file := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, res.SaveResults(&out, FormatJSON, file, false))
	assert.Contains(t, out.String(), "Results written to")
	data, err := os.ReadFile(file) //nolint:gosec // G304: test temp file
	require.NoError(t, err)
	assert.Contains(t, string(data), `"images"`)

	out.Reset()
	require.NoError(t, res.SaveResults(&out, FormatJSON, file, true))
	assert.Empty(t, out.String())
}
