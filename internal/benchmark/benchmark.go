// Package benchmark times the analysis stages of an analyzer and compares
// attribution modes on the same radiograph.
package benchmark

import (
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/attribution"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
)

// MemoryStats holds the memory figures recorded around a benchmark.
type MemoryStats struct {
	Alloc      uint64
	TotalAlloc uint64
	Sys        uint64
	NumGC      uint32
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC)
}

// Result holds the outcome of one benchmark.
type Result struct {
	Name         string
	Iterations   int
	Duration     time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        error
}

// Average returns the mean duration per iteration.
func (r Result) Average() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// String returns a formatted string representation of the result.
func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	// TotalAlloc is monotonic, so the difference is the allocation volume.
	allocated := r.MemoryAfter.TotalAlloc - r.MemoryBefore.TotalAlloc
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc: %d KB",
		r.Name, r.Iterations, r.Average(), r.Duration, allocated/1024)
}

type entry struct {
	name string
	fn   func() error
}

// Suite is an ordered set of named benchmarks.
type Suite struct {
	entries []entry
	results []Result
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers a benchmark.
func (s *Suite) Add(name string, fn func() error) {
	s.entries = append(s.entries, entry{name: name, fn: fn})
}

// Run runs the named benchmark.
func (s *Suite) Run(name string, iterations int) Result {
	for _, e := range s.entries {
		if e.name == name {
			r := run(e, iterations)
			s.results = append(s.results, r)
			return r
		}
	}
	return Result{Name: name, Error: fmt.Errorf("benchmark %q not found", name)}
}

// RunAll runs every benchmark in registration order.
func (s *Suite) RunAll(iterations int) []Result {
	out := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, run(e, iterations))
	}
	s.results = append(s.results, out...)
	return out
}

// Results returns every result recorded so far.
func (s *Suite) Results() []Result {
	return append([]Result(nil), s.results...)
}

// Print writes one line per recorded result.
func (s *Suite) Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.results {
		_, _ = fmt.Fprintln(w, r.String())
	}
}

// run stops at the first failing iteration.
func run(e entry, iterations int) Result {
	if iterations < 1 {
		iterations = 1
	}
	runtime.GC()
	r := Result{Name: e.name, MemoryBefore: GetMemoryStats()}
	start := time.Now()
	for i := range iterations {
		if err := e.fn(); err != nil {
			r.Error = fmt.Errorf("iteration %d: %w", i+1, err)
			break
		}
		r.Iterations++
	}
	r.Duration = time.Since(start)
	r.MemoryAfter = GetMemoryStats()
	return r
}

// AddAnalyzerStages registers the full analysis of img and, when class is
// set, the explanation of class on a retained analysis.
func AddAnalyzerStages(s *Suite, prefix string, a *pipeline.Analyzer, img image.Image, class string) error {
	if a == nil || img == nil {
		return errors.New("benchmark: analyzer and image are required")
	}
	s.Add(prefix+"/analyze", func() error {
		_, err := a.Analyze(img)
		return err
	})
	if class == "" {
		return nil
	}
	an, err := a.Analyze(img)
	if err != nil {
		return fmt.Errorf("benchmark: warm-up analysis: %w", err)
	}
	if _, err := a.ExplainName(an, class); err != nil {
		return fmt.Errorf("benchmark: %w", err)
	}
	s.Add(prefix+"/explain "+class, func() error {
		_, err := a.ExplainName(an, class)
		return err
	})
	return nil
}

// ModeResult compares one attribution mode.
type ModeResult struct {
	Mode     attribution.Mode
	Strategy string
	Degraded bool
	Analyze  Result
	Explain  Result
	Error    error
}

// String returns a one-line summary of the mode.
func (r ModeResult) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%-9s ERROR - %v", r.Mode, r.Error)
	}
	status := r.Strategy
	if r.Degraded {
		status = "degraded"
	}
	return fmt.Sprintf("%-9s strategy: %-9s analyze: %-12v explain: %v",
		r.Mode, status, r.Analyze.Average(), r.Explain.Average())
}

// CompareModes builds one analyzer per mode and times analysis and the
// explanation of class on img. A mode whose analyzer fails to build is
// reported rather than aborting the comparison.
func CompareModes(build func(attribution.Mode) (*pipeline.Analyzer, error), modes []attribution.Mode,
	img image.Image, class string, iterations int,
) []ModeResult {
	out := make([]ModeResult, 0, len(modes))
	for _, m := range modes {
		out = append(out, compareMode(build, m, img, class, iterations))
	}
	return out
}

func compareMode(build func(attribution.Mode) (*pipeline.Analyzer, error), mode attribution.Mode,
	img image.Image, class string, iterations int,
) ModeResult {
	res := ModeResult{Mode: mode}
	a, err := build(mode)
	if err != nil {
		res.Error = err
		return res
	}
	defer func() { _ = a.Close() }()

	an, err := a.Analyze(img)
	if err != nil {
		res.Error = err
		return res
	}
	if class == "" {
		class = an.Top.Name
	}
	ex, err := a.ExplainName(an, class)
	if err != nil {
		res.Error = err
		return res
	}
	res.Strategy, res.Degraded = ex.Strategy, ex.Degraded

	s := NewSuite()
	if err := AddAnalyzerStages(s, string(mode), a, img, class); err != nil {
		res.Error = err
		return res
	}
	results := s.RunAll(iterations)
	res.Analyze, res.Explain = results[0], results[1]
	for _, r := range results {
		if r.Error != nil {
			res.Error = r.Error
		}
	}
	return res
}

// PrintComparison writes the mode comparison table.
func PrintComparison(w io.Writer, results []ModeResult) {
	_, _ = fmt.Fprintln(w, "Attribution Mode Comparison")
	_, _ = fmt.Fprintln(w, "===========================")
	var fastest *ModeResult
	for i := range results {
		r := &results[i]
		_, _ = fmt.Fprintln(w, r.String())
		if r.Error == nil && (fastest == nil || r.Explain.Average() < fastest.Explain.Average()) {
			fastest = r
		}
	}
	if fastest != nil {
		_, _ = fmt.Fprintf(w, "\nFastest explanation: %s (%v)\n", fastest.Mode, fastest.Explain.Average())
	}
}
