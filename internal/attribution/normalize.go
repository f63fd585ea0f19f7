package attribution

import (
	"fmt"

	"github.com/MeKo-Tech/toraxia/internal/heatmap"
)

// normalize scales m in place so that its maximum becomes exactly 1. Maps
// whose maximum does not exceed eps are rejected with ErrEmptyMap.
func normalize(m *heatmap.Map, eps float64) error {
	maxVal := m.Max()
	if !(float64(maxVal) > eps) {
		return fmt.Errorf("%w: max %g <= epsilon %g", ErrEmptyMap, maxVal, eps)
	}
	for i, v := range m.Data {
		m.Data[i] = v / maxVal
	}
	return nil
}
