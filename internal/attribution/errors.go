package attribution

import (
	"errors"
	"fmt"
)

var (
	// ErrGradientUnavailable means a strategy could not obtain a usable gradient.
	ErrGradientUnavailable = errors.New("gradient unavailable")
	// ErrEmptyMap means the rectified map had no cell above epsilon.
	ErrEmptyMap = errors.New("attribution map is empty")
	// ErrAttributionDegraded marks the cause of a degraded Result.
	ErrAttributionDegraded = errors.New("attribution degraded")
)

// ConfigurationError reports an engine configuration that can never produce
// an attribution, e.g. a layer name missing from the classifier.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("attribution configuration error in %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
