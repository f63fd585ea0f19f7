package attribution

import (
	"math"

	"github.com/MeKo-Tech/toraxia/internal/heatmap"
	"github.com/MeKo-Tech/toraxia/internal/mempool"
)

// gaussianKernel returns a normalized 1D kernel. A non-positive sigma is
// derived from the size the same way OpenCV's GaussianBlur does.
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*((float64(size)-1)*0.5-1) + 0.8
	}
	k := make([]float64, size)
	c := float64(size-1) / 2
	var sum float64
	for i := range k {
		d := float64(i) - c
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect101 mirrors i into [0,n) without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur applies a separable Gaussian blur to m in place.
func gaussianBlur(m *heatmap.Map, size int, sigma float64) {
	if size <= 1 {
		return
	}
	k := gaussianKernel(size, sigma)
	r := size / 2
	w, h := m.Width, m.Height

	tmp := mempool.GetFloat32(w * h)
	defer mempool.PutFloat32(tmp)

	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(m.Data[row+reflect101(x+i-r, w)])
			}
			tmp[row+x] = float32(acc)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(tmp[reflect101(y+i-r, h)*w+x])
			}
			m.Data[y*w+x] = float32(acc)
		}
	}
}
