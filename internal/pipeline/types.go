package pipeline

import (
	"image"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
	"github.com/MeKo-Tech/toraxia/internal/overlay"
	"github.com/MeKo-Tech/toraxia/internal/ranking"
)

// ModelInfo describes the loaded classifier and explanation settings.
type ModelInfo struct {
	Backend      string   `json:"backend"`
	Architecture string   `json:"architecture,omitempty"`
	Version      string   `json:"version,omitempty"`
	Labels       []string `json:"labels"`
	InputWidth   int      `json:"input_width"`
	InputHeight  int      `json:"input_height"`
	Layer        string   `json:"layer"`
	Mode         string   `json:"mode"`
	Palette      string   `json:"palette"`
	Alpha        float64  `json:"alpha"`
}

// Analysis is the retained state of one analyzed image. Explanations for any
// class can be regenerated from it without preprocessing or a forward pass.
type Analysis struct {
	ID        string
	CreatedAt time.Time
	// Source holds the original image size.
	Source image.Point
	// Tensor is the inference input; it must not be modified.
	Tensor *classifier.Tensor
	// Display is the resized opaque image overlays are composited on.
	Display     *image.NRGBA
	Predictions ranking.PredictionVector // model output order
	Ranked      ranking.PredictionVector // descending probability
	Findings    []ranking.Finding        // top-K of Ranked
	Top         ranking.Prediction
	// Explanation is the attribution for Top.
	Explanation *Explanation
	Duration    time.Duration
}

// Explanation is an attribution map for one class composited over the
// display image.
type Explanation struct {
	Class    ranking.Prediction
	Map      *heatmap.Map
	Overlay  *image.NRGBA
	// Palette is the color scale Overlay was rendered with.
	Palette  *overlay.Palette
	Degraded bool
	Strategy string
	Cause    error
	Duration time.Duration
}

// Status returns "degraded" or the producing strategy name.
func (e *Explanation) Status() string {
	if e.Degraded {
		return "degraded"
	}
	return e.Strategy
}
