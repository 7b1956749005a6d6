package capture

import "sync"

// Ring keeps the most recent samples of a stream and serves them as a
// vad.Analyser.
type Ring struct {
	samples []float32
	pos     int
	filled  bool
	mu      sync.Mutex
}

// NewRing creates a ring holding size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{samples: make([]float32, size)}
}

// WriteInt16 appends signed 16-bit samples, scaled into [-1, 1).
func (r *Ring) WriteInt16(in []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range in {
		r.samples[r.pos] = float32(s) / 32768
		r.pos++
		if r.pos == len(r.samples) {
			r.pos = 0
			r.filled = true
		}
	}
}

// Len returns the number of samples currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

func (r *Ring) lenLocked() int {
	if r.filled {
		return len(r.samples)
	}
	return r.pos
}

// TimeDomain copies the newest samples into dst, oldest first.
func (r *Ring) TimeDomain(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.lenLocked()
	if len(dst) < n {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}

	start := r.pos - n
	if start < 0 {
		start += len(r.samples)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.samples[(start+i)%len(r.samples)]
	}
	return n
}
