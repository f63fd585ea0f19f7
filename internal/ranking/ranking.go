// Package ranking orders classifier outputs and applies per-class detection
// thresholds.
package ranking

import (
	"fmt"
	"sort"
)

// Prediction is one class probability.
type Prediction struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Probability float32 `json:"probability"`
}

// PredictionVector holds independent per-class probabilities in classifier
// output order.
type PredictionVector []Prediction

// NewPredictionVector pairs labels with probabilities.
func NewPredictionVector(labels []string, probs []float32) (PredictionVector, error) {
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("ranking: %d labels but %d probabilities", len(labels), len(probs))
	}
	v := make(PredictionVector, len(labels))
	for i := range labels {
		v[i] = Prediction{Index: i, Name: labels[i], Probability: probs[i]}
	}
	return v, nil
}

// Lookup returns the prediction for a class name.
func (v PredictionVector) Lookup(name string) (Prediction, bool) {
	for _, p := range v {
		if p.Name == name {
			return p, true
		}
	}
	return Prediction{}, false
}

// Rank returns a copy of v sorted by descending probability. Ties keep the
// lower class index first.
func Rank(v PredictionVector) PredictionVector {
	out := make(PredictionVector, len(v))
	copy(out, v)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// Top returns the k most probable predictions; k <= 0 or k > len(v) returns all.
func Top(v PredictionVector, k int) PredictionVector {
	r := Rank(v)
	if k > 0 && k < len(r) {
		r = r[:k]
	}
	return r
}

// TopClass returns the single most probable prediction.
func TopClass(v PredictionVector) (Prediction, error) {
	if len(v) == 0 {
		return Prediction{}, fmt.Errorf("ranking: empty prediction vector")
	}
	return Rank(v)[0], nil
}

// Detect reports whether p reaches the threshold for name. The comparison
// runs at the classifier's float32 precision so that a probability equal to
// a configured threshold such as 0.7 counts as detected.
func Detect(name string, p float32, table ThresholdTable) bool {
	return p >= float32(table.Threshold(name))
}

// Finding is a ranked prediction with its detection decision.
type Finding struct {
	Prediction
	Threshold float64 `json:"threshold"`
	Detected  bool    `json:"detected"`
}

// Findings ranks v and annotates each entry with its threshold decision.
func Findings(v PredictionVector, table ThresholdTable) []Finding {
	r := Rank(v)
	out := make([]Finding, len(r))
	for i, p := range r {
		out[i] = Finding{
			Prediction: p,
			Threshold:  table.Threshold(p.Name),
			Detected:   Detect(p.Name, p.Probability, table),
		}
	}
	return out
}

// Detected filters findings down to positive decisions, keeping rank order.
func Detected(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Detected {
			out = append(out, f)
		}
	}
	return out
}
