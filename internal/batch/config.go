package batch

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Analyzer settings
	Pipeline pipeline.Config

	// Per-image output
	Classes    []string // explained in addition to the top class
	Language   string
	OverlayDir string
	Format     string
	OutputFile string

	// Parallel processing settings
	Workers         int
	ContinueOnError bool
	Constraints     utils.ImageConstraints

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress settings
	ShowProgress bool
	Quiet        bool
	ShowStats    bool
}

// DefaultConfig returns batch defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:        pipeline.DefaultConfig(),
		Language:        "en",
		Format:          FormatText,
		Workers:         runtime.NumCPU(),
		ContinueOnError: true,
		Constraints:     utils.DefaultImageConstraints(),
	}
}

// Validate checks the batch settings.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("batch config is nil")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.Format != "" && !slices.Contains([]string{FormatText, FormatJSON, FormatCSV}, c.Format) {
		return fmt.Errorf("unsupported output format %q", c.Format)
	}
	return nil
}
