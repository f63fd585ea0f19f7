package ranking

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultThreshold applies to classes without an explicit entry.
const DefaultThreshold = 0.5

// ThresholdTable maps class names to detection thresholds. It is immutable
// once built; the zero value answers DefaultThreshold for every class.
type ThresholdTable struct {
	values map[string]float64
	lower  map[string]float64
}

// NewThresholdTable validates and copies values. Every threshold must lie in
// [0,1] and no two names may differ only in case.
func NewThresholdTable(values map[string]float64) (ThresholdTable, error) {
	t := ThresholdTable{
		values: make(map[string]float64, len(values)),
		lower:  make(map[string]float64, len(values)),
	}
	owner := make(map[string]string, len(values))
	for _, name := range slices.Sorted(maps.Keys(values)) {
		v := values[name]
		if !(v >= 0 && v <= 1) {
			return ThresholdTable{}, fmt.Errorf("ranking: threshold for %q is %g, must be in [0,1]", name, v)
		}
		key := strings.ToLower(name)
		if prev, ok := owner[key]; ok {
			return ThresholdTable{}, fmt.Errorf("ranking: thresholds %q and %q differ only in case", prev, name)
		}
		owner[key] = name
		t.values[name] = v
		t.lower[key] = v
	}
	return t, nil
}

// DefaultThresholds returns a table that answers DefaultThreshold for every class.
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{}
}

// Threshold returns the threshold for name. Exact names win over a
// case-insensitive match; unknown names get the default.
func (t ThresholdTable) Threshold(name string) float64 {
	if v, ok := t.values[name]; ok {
		return v
	}
	if v, ok := t.lower[strings.ToLower(name)]; ok {
		return v
	}
	return DefaultThreshold
}

// Len returns the number of explicit entries.
func (t ThresholdTable) Len() int { return len(t.values) }

// Names returns the explicitly configured class names, sorted.
func (t ThresholdTable) Names() []string {
	return slices.Sorted(maps.Keys(t.values))
}

// ParseThresholds decodes a JSON or YAML name->threshold mapping.
func ParseThresholds(data []byte) (ThresholdTable, error) {
	var raw map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ThresholdTable{}, fmt.Errorf("ranking: parse thresholds: %w", err)
	}
	return NewThresholdTable(raw)
}

// LoadThresholds reads a threshold file. A missing file yields the default
// table and a warning; an empty path yields the default table silently.
func LoadThresholds(path string) (ThresholdTable, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured threshold file
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Threshold file not found, using defaults", "path", path, "default", DefaultThreshold)
			return DefaultThresholds(), nil
		}
		return ThresholdTable{}, fmt.Errorf("ranking: read thresholds: %w", err)
	}
	t, err := ParseThresholds(data)
	if err != nil {
		return ThresholdTable{}, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Loaded thresholds", "path", path, "entries", t.Len())
	return t, nil
}
