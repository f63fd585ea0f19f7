package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/batch"
	"github.com/MeKo-Tech/toraxia/internal/config"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/testutil"
)

func TestBatchCommand(t *testing.T) {
	work := isolate(t)
	dir := filepath.Join(work, "studies")
	testutil.WriteXrays(t, dir, 2)
	testutil.WriteXrays(t, filepath.Join(dir, "nested"), 1)

	args := append([]string{"batch", dir, "--format", "json", "--workers", "2", "--recursive", "--stats"},
		referenceArgs(t)...)
	out, stderr, err := run(t, args...)
	require.NoError(t, err)

	var decoded struct {
		Images []pipeline.Result `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded.Images, 3)
	assert.Contains(t, stderr, "Processing Statistics:")
}

func TestBatchCommand_Errors(t *testing.T) {
	work := isolate(t)

	_, _, err := run(t, "batch")
	require.Error(t, err)

	_, _, err = run(t, append([]string{"batch", work}, referenceArgs(t)...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image files found")
}

func TestConfigToBatchConfig(t *testing.T) {
	cmd := newBatchCommand(&app{})
	require.NoError(t, cmd.Flags().Parse([]string{
		"--workers", "7", "--stop-on-error", "--include", "*.png,*.jpg", "--class", "Mass", "--quiet",
	}))

	cfg := config.DefaultConfig()
	cfg.Output.OverlayDir = "/tmp/ov"
	bc := configToBatchConfig(&cfg, cmd)

	assert.Equal(t, 7, bc.Workers)
	assert.False(t, bc.ContinueOnError)
	assert.Equal(t, []string{"*.png", "*.jpg"}, bc.IncludePatterns)
	assert.Equal(t, []string{"Mass"}, bc.Classes)
	assert.True(t, bc.Quiet)
	assert.Equal(t, "/tmp/ov", bc.OverlayDir)
	assert.Equal(t, batch.FormatText, bc.Format)
	assert.Equal(t, 32, bc.Constraints.MinWidth)
}
