package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/toraxia/internal/attribution"
	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/overlay"
	"github.com/MeKo-Tech/toraxia/internal/preprocess"
	"github.com/MeKo-Tech/toraxia/internal/ranking"
)

// ErrUnknownClass is returned when a class name is not among the labels.
var ErrUnknownClass = errors.New("unknown class")

// Analyzer runs the full explanation pipeline. It is safe for concurrent use:
// the classifier is shared read-only and no per-request state is kept.
type Analyzer struct {
	clf        classifier.Classifier
	owned      bool
	pre        *preprocess.Preprocessor
	engine     *attribution.Engine
	thresholds ranking.ThresholdTable
	overlay    overlay.Options
	topK       int
	info       ModelInfo
}

// Info describes the loaded model.
func (a *Analyzer) Info() ModelInfo { return a.info }

// Labels returns the class names in model output order.
func (a *Analyzer) Labels() []string { return append([]string(nil), a.info.Labels...) }

// Thresholds returns the decision thresholds.
func (a *Analyzer) Thresholds() ranking.ThresholdTable { return a.thresholds }

// Palette returns the overlay palette.
func (a *Analyzer) Palette() *overlay.Palette { return a.overlay.Palette }

// Close releases the classifier if the Analyzer loaded it.
func (a *Analyzer) Close() error {
	if a == nil || !a.owned || a.clf == nil {
		return nil
	}
	return a.clf.Close()
}

// Analyze preprocesses img, runs the classifier, ranks the predictions and
// explains the top class. Only input and inference failures are errors; a
// degraded attribution is reported on the Explanation.
func (a *Analyzer) Analyze(img image.Image) (*Analysis, error) {
	start := time.Now()
	if img == nil {
		return nil, errors.New("analyze: image is nil")
	}
	x, display, err := a.pre.Prepare(img)
	if err != nil {
		return nil, err
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		lo, hi, mean := classifier.Stats(x.Data)
		slog.Debug("Input tensor prepared", "shape", x.Shape, "min", lo, "max", hi, "mean", mean)
	}
	probs, err := a.clf.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	preds, err := ranking.NewPredictionVector(a.info.Labels, probs)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	ranked := ranking.Rank(preds)
	top, err := ranking.TopClass(ranked)
	if err != nil {
		return nil, err
	}

	an := &Analysis{
		ID:          uuid.NewString(),
		CreatedAt:   start,
		Source:      img.Bounds().Size(),
		Tensor:      x,
		Display:     display,
		Predictions: preds,
		Ranked:      ranked,
		Findings:    ranking.Findings(ranking.Top(ranked, a.topK), a.thresholds),
		Top:         top,
	}
	an.Explanation, err = a.explain(an, top)
	if err != nil {
		return nil, err
	}
	an.Duration = time.Since(start)
	slog.Debug("Image analyzed",
		"id", an.ID,
		"top", top.Name,
		"probability", top.Probability,
		"attribution", an.Explanation.Status(),
		"duration", an.Duration)
	return an, nil
}

// Explain computes the attribution overlay for the class at index class.
func (a *Analyzer) Explain(an *Analysis, class int) (*Explanation, error) {
	if an == nil || an.Tensor == nil || an.Display == nil {
		return nil, errors.New("explain: analysis is incomplete")
	}
	if err := classifier.CheckClass(class, len(an.Predictions)); err != nil {
		return nil, err
	}
	return a.explain(an, an.Predictions[class])
}

// ExplainName resolves a class by name, case-insensitively, and explains it.
func (a *Analyzer) ExplainName(an *Analysis, name string) (*Explanation, error) {
	if an == nil {
		return nil, errors.New("explain: analysis is nil")
	}
	p, ok := an.Predictions.Lookup(name)
	if !ok {
		for _, q := range an.Predictions {
			if strings.EqualFold(q.Name, name) {
				p, ok = q, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, name)
	}
	return a.Explain(an, p.Index)
}

func (a *Analyzer) explain(an *Analysis, class ranking.Prediction) (*Explanation, error) {
	start := time.Now()
	res := a.engine.Explain(an.Tensor, class.Index)
	ov, err := overlay.Blend(an.Display, res.Map, a.overlay)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}
	slog.Debug("Attribution map computed",
		"class", class.Name,
		"strategy", res.Strategy,
		"min", res.Map.Min(),
		"max", res.Map.Max(),
		"mean", res.Map.Mean())
	return &Explanation{
		Class:    class,
		Map:      res.Map,
		Overlay:  ov,
		Palette:  a.overlay.Palette,
		Degraded: res.Degraded,
		Strategy: res.Strategy,
		Cause:    res.Cause,
		Duration: time.Since(start),
	}, nil
}
