package batch

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
)

// formatBatchResults formats the batch processing results in the specified format.
func formatBatchResults(r *Result, format string) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(r)
	case FormatCSV:
		return pipeline.ToCSV(r.Results...)
	case FormatText, "":
		return formatText(r)
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

func formatJSON(r *Result) (string, error) {
	out := struct {
		Images   []*pipeline.Result `json:"images"`
		Failures []Failure          `json:"failures,omitempty"`
	}{Images: r.Results, Failures: r.Failures}
	if out.Images == nil {
		out.Images = []*pipeline.Result{}
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

func formatText(r *Result) (string, error) {
	var output strings.Builder
	for i, res := range r.Results {
		if i > 0 {
			output.WriteString("\n")
		}
		text, err := pipeline.ToPlainText(res, nil)
		if err != nil {
			return "", err
		}
		output.WriteString(text)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&output, "\n! %s: %s\n", f.File, f.Error)
	}
	return output.String(), nil
}

// Detection counts how many images had a class above its threshold.
type Detection struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Stats summarizes a batch run.
type Stats struct {
	TotalImages      int
	Processed        int
	Failed           int
	Degraded         int // top-class explanations without a visualization
	Workers          int
	TotalDuration    time.Duration
	AveragePerImage  time.Duration
	ThroughputPerSec float64
	Detections       []Detection // most frequent first
}

// Stats computes run statistics.
func (r *Result) Stats() Stats {
	s := Stats{
		TotalImages:   len(r.ImagePaths),
		Processed:     len(r.Results),
		Failed:        len(r.Failures),
		Workers:       r.WorkerCount,
		TotalDuration: r.Duration,
	}
	counts := make(map[string]int)
	for _, res := range r.Results {
		if len(res.Explanations) > 0 && res.Explanations[0].Degraded {
			s.Degraded++
		}
		for _, f := range res.Findings {
			if f.Detected {
				counts[f.Class]++
			}
		}
	}
	for class, n := range counts {
		s.Detections = append(s.Detections, Detection{Class: class, Count: n})
	}
	slices.SortFunc(s.Detections, func(a, b Detection) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Class, b.Class)
	})
	if s.Processed > 0 {
		s.AveragePerImage = r.Duration / time.Duration(s.Processed)
	}
	if r.Duration > 0 {
		s.ThroughputPerSec = float64(s.Processed) / r.Duration.Seconds()
	}
	return s
}
