package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/overlay"
	"github.com/MeKo-Tech/toraxia/internal/ranking"
	"github.com/MeKo-Tech/toraxia/internal/report"
)

// FindingResult is one ranked prediction prepared for output.
type FindingResult struct {
	Rank        int     `json:"rank"`
	Class       string  `json:"class"`
	DisplayName string  `json:"display_name"`
	Probability float32 `json:"probability"`
	Threshold   float64 `json:"threshold"`
	Detected    bool    `json:"detected"`
	Decision    string  `json:"decision"`
}

// ExplanationResult summarizes an Explanation without its images.
type ExplanationResult struct {
	Class       string  `json:"class"`
	DisplayName string  `json:"display_name"`
	Status      string  `json:"status"`
	Degraded    bool    `json:"degraded"`
	Error       string  `json:"error,omitempty"`
	MapWidth    int     `json:"map_width"`
	MapHeight   int     `json:"map_height"`
	MapMean     float64 `json:"map_mean"`
	OverlayPath string  `json:"overlay_path,omitempty"`
	DurationMs  int64   `json:"duration_ms"`
}

// Result is the serializable outcome of one analysis.
type Result struct {
	ID           string              `json:"id"`
	File         string              `json:"file,omitempty"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	Language     string              `json:"language"`
	Top          FindingResult       `json:"top"`
	Findings     []FindingResult     `json:"findings"`
	Detected     []string            `json:"detected"`
	Explanations []ExplanationResult `json:"explanations"`
	Processing   struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"processing"`
}

// NewResult converts an analysis and its explanations for output. The top
// explanation is always listed first; extra explanations follow in order.
func NewResult(an *Analysis, tr *i18n.Translator, extra ...*Explanation) (*Result, error) {
	if an == nil {
		return nil, errors.New("nil analysis")
	}
	if tr == nil {
		tr = i18n.New("")
	}
	res := &Result{
		ID:       an.ID,
		Width:    an.Source.X,
		Height:   an.Source.Y,
		Language: tr.Language().String(),
		Findings: make([]FindingResult, len(an.Findings)),
	}
	res.Processing.TotalMs = an.Duration.Milliseconds()
	for i, f := range an.Findings {
		res.Findings[i] = FindingResult{
			Rank:        i + 1,
			Class:       f.Name,
			DisplayName: tr.Label(f.Name),
			Probability: f.Probability,
			Threshold:   f.Threshold,
			Detected:    f.Detected,
			Decision:    decision(tr, f.Detected),
		}
	}
	if len(res.Findings) > 0 {
		res.Top = res.Findings[0]
	}
	res.Detected = []string{}
	for _, f := range ranking.Detected(an.Findings) {
		res.Detected = append(res.Detected, f.Name)
	}
	for _, ex := range append([]*Explanation{an.Explanation}, extra...) {
		if ex != nil {
			res.Explanations = append(res.Explanations, NewExplanationResult(ex, tr))
		}
	}
	return res, nil
}

// NewExplanationResult summarizes ex for output.
func NewExplanationResult(ex *Explanation, tr *i18n.Translator) ExplanationResult {
	if tr == nil {
		tr = i18n.New("")
	}
	r := ExplanationResult{
		Class:       ex.Class.Name,
		DisplayName: tr.Label(ex.Class.Name),
		Status:      ex.Status(),
		Degraded:    ex.Degraded,
		DurationMs:  ex.Duration.Milliseconds(),
	}
	if ex.Cause != nil {
		r.Error = ex.Cause.Error()
	}
	if ex.Map != nil {
		r.MapWidth, r.MapHeight = ex.Map.Width, ex.Map.Height
		r.MapMean = ex.Map.Mean()
	}
	return r
}

func decision(tr *i18n.Translator, detected bool) string {
	if detected {
		return tr.Message(i18n.MsgDetected)
	}
	return tr.Message(i18n.MsgNotDetected)
}

// ToJSON serializes a single Result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONResults serializes multiple results to pretty JSON.
func ToJSONResults(results []*Result) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var csvHeader = []string{"file", "id", "rank", "class", "display_name", "probability", "threshold", "detected", "attribution"}

// ToCSV exports the findings of one or more results, one row per finding.
func ToCSV(results ...*Result) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)
	for _, res := range results {
		if res == nil {
			return "", errors.New("nil result")
		}
		status := ""
		if len(res.Explanations) > 0 {
			status = res.Explanations[0].Status
		}
		for _, f := range res.Findings {
			attr := ""
			if f.Rank == 1 {
				attr = status
			}
			_ = w.Write([]string{
				res.File,
				res.ID,
				strconv.Itoa(f.Rank),
				f.Class,
				f.DisplayName,
				fmt.Sprintf("%.4f", f.Probability),
				fmt.Sprintf("%.2f", f.Threshold),
				strconv.FormatBool(f.Detected),
				attr,
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ToPlainText renders a human readable findings table.
func ToPlainText(res *Result, tr *i18n.Translator) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	if tr == nil {
		tr = i18n.New(res.Language)
	}
	var sb strings.Builder
	if res.File != "" {
		fmt.Fprintf(&sb, "%s (%dx%d)\n", res.File, res.Width, res.Height)
	}
	for _, f := range res.Findings {
		mark := " "
		if f.Detected {
			mark = "*"
		}
		fmt.Fprintf(&sb, "%s %d. %-24s %7s  %s\n", mark, f.Rank, f.DisplayName, tr.Percent(f.Probability), f.Decision)
	}
	detected := tr.Message(i18n.MsgNone)
	if len(res.Detected) > 0 {
		names := make([]string, len(res.Detected))
		for i, name := range res.Detected {
			names[i] = tr.Label(name)
		}
		detected = strings.Join(names, ", ")
	}
	sb.WriteString(tr.Message(i18n.MsgFindings, detected) + "\n")
	for _, ex := range res.Explanations {
		line := ex.Status
		if ex.Degraded {
			line = tr.Message(i18n.MsgNoVisualization)
		}
		fmt.Fprintf(&sb, "  %s: %s\n", ex.DisplayName, line)
		if ex.OverlayPath != "" {
			fmt.Fprintf(&sb, "    overlay: %s\n", ex.OverlayPath)
		}
	}
	return sb.String(), nil
}

// ReportBundle assembles the PDF report content: a findings summary, the
// display image and one page per explanation. An explanation page shows the
// overlay, the raw colorized map and a legend side by side. Degraded
// explanations are shown on the plain image with a notice instead.
func ReportBundle(title string, an *Analysis, tr *i18n.Translator, explanations ...*Explanation) (report.Bundle, error) {
	res, err := NewResult(an, tr)
	if err != nil {
		return report.Bundle{}, err
	}
	if tr == nil {
		tr = i18n.New("")
	}
	b := report.Bundle{Title: title}
	for _, f := range res.Findings {
		b.Summary = append(b.Summary, fmt.Sprintf("%d. %s  %s  %s", f.Rank, f.DisplayName, tr.Percent(f.Probability), f.Decision))
	}
	b.Pages = append(b.Pages, report.Page{Caption: tr.Message(i18n.MsgOriginal), Image: an.Display})
	if len(explanations) == 0 && an.Explanation != nil {
		explanations = []*Explanation{an.Explanation}
	}
	for _, ex := range explanations {
		name := tr.Label(ex.Class.Name)
		if ex.Degraded || ex.Overlay == nil {
			b.Pages = append(b.Pages, report.Page{
				Caption: name + ": " + tr.Message(i18n.MsgNoVisualization),
				Image:   an.Display,
			})
			continue
		}
		fig, err := explanationFigure(ex, tr.Message(i18n.MsgRelevance))
		if err != nil {
			return report.Bundle{}, err
		}
		b.Pages = append(b.Pages, report.Page{Caption: tr.Message(i18n.MsgOverlay, name), Image: fig})
	}
	return b, nil
}

// explanationFigure places the overlay, the colorized map scaled to the
// overlay height and a legend in one row.
func explanationFigure(ex *Explanation, caption string) (*image.NRGBA, error) {
	heat, err := overlay.Colorize(ex.Map, ex.Palette)
	if err != nil {
		return nil, err
	}
	h := ex.Overlay.Bounds().Dy()
	w := ex.Overlay.Bounds().Dx()
	heatW := max(1, heat.Bounds().Dx()*h/max(1, heat.Bounds().Dy()))
	scaled := imaging.Resize(heat, heatW, h, imaging.NearestNeighbor)
	legend := overlay.Legend(ex.Palette, h, caption)

	fig := imaging.New(w+figureGap+heatW+figureGap+legend.Bounds().Dx(), max(h, legend.Bounds().Dy()), color.White)
	fig = imaging.Paste(fig, ex.Overlay, image.Pt(0, 0))
	fig = imaging.Paste(fig, scaled, image.Pt(w+figureGap, 0))
	fig = imaging.Paste(fig, legend, image.Pt(w+figureGap+heatW+figureGap, 0))
	return fig, nil
}

const figureGap = 8

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveOverlay writes the explanation overlay to dir as <base>_<class>.png and
// returns the path. Parent directories are created as needed.
func SaveOverlay(dir, base string, ex *Explanation) (string, error) {
	if ex == nil || ex.Overlay == nil {
		return "", errors.New("explanation has no overlay")
	}
	data, err := EncodePNG(ex.Overlay)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create overlay dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", base, strings.ReplaceAll(ex.Class.Name, " ", "_"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write overlay: %w", err)
	}
	return path, nil
}
