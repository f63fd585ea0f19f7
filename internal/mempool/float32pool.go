// Package mempool recycles float32 scratch buffers used by per-pixel passes
// such as the separable blur of saliency maps.
package mempool

import "sync"

// Buffers are bucketed into 4 KiB-element classes so that maps of similar
// size share a pool.
const classStep = 4096

var pools sync.Map // size class -> *sync.Pool

func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

func poolFor(cls int) *sync.Pool {
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a zeroed buffer of length n. Release it with PutFloat32.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bp, _ := poolFor(cls).Get().(*[]float32)
	var buf []float32
	if bp == nil || cap(*bp) < cls {
		buf = make([]float32, cls)
	} else {
		buf = (*bp)[:cap(*bp)]
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

// PutFloat32 hands a buffer back to its pool. The caller must not use it
// afterwards. nil is ignored.
func PutFloat32(buf []float32) {
	if buf == nil || cap(buf) < classStep {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// Not allocated by GetFloat32.
		return
	}
	buf = buf[:cap(buf)]
	poolFor(cls).Put(&buf)
}
