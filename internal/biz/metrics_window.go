package biz

import (
	"sort"
	"sync"
)

// metricsSample is one attempted downstream call, direct or drained.
type metricsSample struct {
	latencyMs float64
	success   bool
}

// MetricsWindow retains the most recent N call samples in a ring buffer and
// computes P95 latency and error rate on demand. Appends are a short critical
// section; the percentile runs over a snapshot copy without holding the lock.
//
// Both P95 and ErrorRate return 0 when the window is empty. Callers must
// treat 0 as "no data", never "healthy".
type MetricsWindow struct {
	mu      sync.Mutex
	samples []metricsSample
	next    int
	filled  bool
}

// NewMetricsWindow creates a window retaining the most recent size samples.
func NewMetricsWindow(size int) *MetricsWindow {
	if size <= 0 {
		size = 1000
	}
	return &MetricsWindow{samples: make([]metricsSample, size)}
}

// Record appends one sample, evicting the oldest once the window is full.
func (w *MetricsWindow) Record(latencyMs float64, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = metricsSample{latencyMs: latencyMs, success: success}
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// snapshot returns a copy of the current samples.
func (w *MetricsWindow) snapshot() []metricsSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	out := make([]metricsSample, n)
	if w.filled {
		copy(out, w.samples[w.next:])
		copy(out[len(w.samples)-w.next:], w.samples[:w.next])
	} else {
		copy(out, w.samples[:n])
	}
	return out
}

// P95 returns the latency below which 95% of observed calls fall, computed
// over a sorted snapshot. No streaming approximation is needed at this window
// size.
func (w *MetricsWindow) P95() float64 {
	snap := w.snapshot()
	if len(snap) == 0 {
		return 0
	}

	latencies := make([]float64, len(snap))
	for i, s := range snap {
		latencies[i] = s.latencyMs
	}
	sort.Float64s(latencies)

	idx := int(float64(len(latencies)) * 0.95)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return latencies[idx]
}

// ErrorRate returns the fraction of failed samples in the window.
func (w *MetricsWindow) ErrorRate() float64 {
	snap := w.snapshot()
	if len(snap) == 0 {
		return 0
	}

	failed := 0
	for _, s := range snap {
		if !s.success {
			failed++
		}
	}
	return float64(failed) / float64(len(snap))
}

// Len reports the number of retained samples.
func (w *MetricsWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled {
		return len(w.samples)
	}
	return w.next
}
