package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/toraxia/internal/utils"
)

// ParallelConfig holds configuration for analyzing many files.
type ParallelConfig struct {
	MaxWorkers       int  // 0 = runtime.NumCPU()
	StopOnError      bool // cancel remaining work after the first failure
	Constraints      utils.ImageConstraints
	ProgressCallback ProgressCallback
}

// DefaultParallelConfig returns defaults for parallel analysis.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		MaxWorkers:  runtime.NumCPU(),
		Constraints: utils.DefaultImageConstraints(),
	}
}

// FileResult is the outcome for one input file.
type FileResult struct {
	Index    int
	Path     string
	Meta     utils.ImageMetadata
	Analysis *Analysis
	Err      error
}

type fileJob struct {
	index int
	path  string
}

// AnalyzeFile loads, validates and analyzes a single image file.
func (a *Analyzer) AnalyzeFile(path string, cons utils.ImageConstraints) FileResult {
	res := FileResult{Path: path}
	img, meta, err := utils.LoadImage(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Meta = meta
	if err := utils.ValidateImageConstraints(img, cons); err != nil {
		res.Err = err
		return res
	}
	res.Analysis, res.Err = a.Analyze(img)
	return res
}

// AnalyzeFiles analyzes paths with a bounded worker pool. Results are
// returned in input order; per-file failures are reported on the result.
// The returned error is non-nil only when no work was possible or ctx was
// cancelled.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, paths []string, cfg ParallelConfig) ([]FileResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no images provided")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	cfg.MaxWorkers = min(cfg.MaxWorkers, len(paths))
	progress := cfg.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress.OnStart(len(paths))
	defer progress.OnComplete()

	jobs := make(chan fileJob)
	results := make(chan FileResult, len(paths))

	var wg sync.WaitGroup
	for range cfg.MaxWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.worker(ctx, jobs, results, cfg, cancel)
		}()
	}

	go func() {
		defer close(jobs)
		for i, p := range paths {
			select {
			case jobs <- fileJob{index: i, path: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]FileResult, len(paths))
	done := make([]bool, len(paths))
	processed := 0
	for r := range results {
		out[r.Index] = r
		done[r.Index] = true
		processed++
		if r.Err != nil {
			progress.OnError(r.Path, r.Err)
		}
		progress.OnProgress(processed, len(paths))
	}

	stopped := false
	for i, ok := range done {
		if !ok {
			out[i] = FileResult{Index: i, Path: paths[i], Err: context.Canceled}
			stopped = true
		}
	}
	if stopped {
		if cfg.StopOnError {
			if err := firstError(out); err != nil {
				return out, fmt.Errorf("analysis stopped: %w", err)
			}
		}
		return out, context.Cause(ctx)
	}
	return out, nil
}

func (a *Analyzer) worker(ctx context.Context, jobs <-chan fileJob, results chan<- FileResult,
	cfg ParallelConfig, cancel context.CancelFunc,
) {
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			r := a.AnalyzeFile(job.path, cfg.Constraints)
			r.Index = job.index
			if r.Err != nil && cfg.StopOnError {
				cancel()
			}
			results <- r
		case <-ctx.Done():
			return
		}
	}
}

// firstError returns the first non-cancellation failure in input order.
func firstError(results []FileResult) error {
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
			return fmt.Errorf("%s: %w", r.Path, r.Err)
		}
	}
	return nil
}
