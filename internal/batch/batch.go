// Package batch analyzes many radiographs with one analyzer and formats the
// combined results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
)

// Failure records an image that could not be analyzed.
type Failure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Result holds the result of batch processing.
type Result struct {
	Results     []*pipeline.Result // successful analyses in input order
	Failures    []Failure
	ImagePaths  []string
	Duration    time.Duration
	WorkerCount int
}

// ProcessBatch builds an analyzer from config.Pipeline and processes the
// images found under imagePaths.
func ProcessBatch(ctx context.Context, imagePaths []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a, err := pipeline.NewBuilder().WithConfig(config.Pipeline).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build analyzer: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("Error closing analyzer", "error", err)
		}
	}()
	return ProcessWithAnalyzer(ctx, a, imagePaths, config)
}

// ProcessWithAnalyzer processes the images found under imagePaths with a.
// Per-image failures are collected on the Result unless ContinueOnError is
// off, in which case the first failure aborts the batch.
func ProcessWithAnalyzer(ctx context.Context, a *pipeline.Analyzer, imagePaths []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	files, err := discoverImageFiles(imagePaths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}

	proc, err := newProcessor(a, config)
	if err != nil {
		return nil, err
	}

	var progress pipeline.ProgressCallback = pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug)
	if config.ShowProgress && !config.Quiet {
		progress = pipeline.NewConsoleProgressCallback(os.Stderr, "Analyzing: ")
	}

	startTime := time.Now()
	fileResults, err := a.AnalyzeFiles(ctx, files, pipeline.ParallelConfig{
		MaxWorkers:       config.Workers,
		StopOnError:      !config.ContinueOnError,
		Constraints:      config.Constraints,
		ProgressCallback: progress,
	})
	if err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}

	out := &Result{ImagePaths: files, WorkerCount: workerCount(config.Workers, len(files))}
	for _, fr := range fileResults {
		if fr.Err != nil {
			if !config.ContinueOnError {
				return nil, fmt.Errorf("batch processing failed: %s: %w", fr.Path, fr.Err)
			}
			out.Failures = append(out.Failures, Failure{File: fr.Path, Error: fr.Err.Error()})
			continue
		}
		res, err := proc.finish(fr)
		if err != nil {
			if !config.ContinueOnError {
				return nil, fmt.Errorf("%s: %w", fr.Path, err)
			}
			out.Failures = append(out.Failures, Failure{File: fr.Path, Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, res)
	}
	out.Duration = time.Since(startTime)

	slog.Info("Batch finished",
		"images", len(files),
		"processed", len(out.Results),
		"failed", len(out.Failures),
		"duration", out.Duration)
	return out, nil
}

// FormatResults formats the batch processing results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r, format)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, err = fmt.Fprint(w, output)
	return err
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	stats := r.Stats()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", stats.TotalImages)
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", stats.Processed)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", stats.Failed)
	_, _ = fmt.Fprintf(w, "  Without visualization: %d\n", stats.Degraded)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", stats.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per image: %v\n", stats.AveragePerImage.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", stats.ThroughputPerSec)
	for _, d := range stats.Detections {
		_, _ = fmt.Fprintf(w, "  Detected %s: %d\n", d.Class, d.Count)
	}
}
