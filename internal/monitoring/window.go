package monitoring

import (
	"math"
	"sort"
)

// DefaultWindowSize is how many response times the aggregator keeps
const DefaultWindowSize = 100

// Window is a fixed-capacity FIFO of samples. Pushing into a full window
// evicts the oldest sample. It is not safe for concurrent use.
type Window struct {
	samples []float64
	next    int
	full    bool
}

// NewWindow creates a window holding at most capacity samples
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{samples: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample when full
func (w *Window) Push(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

// Len returns the number of samples held
func (w *Window) Len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Cap returns the window capacity
func (w *Window) Cap() int {
	return len(w.samples)
}

// Values returns the samples oldest first
func (w *Window) Values() []float64 {
	if !w.full {
		out := make([]float64, w.next)
		copy(out, w.samples[:w.next])
		return out
	}

	out := make([]float64, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	return append(out, w.samples[:w.next]...)
}

// Summary holds order statistics over a set of samples
type Summary struct {
	Count   int
	Average float64
	P50     float64
	P95     float64
	P99     float64
	Max     float64
}

// Summarize computes nearest-rank percentiles over the window
func (w *Window) Summarize() Summary {
	values := w.Values()
	if len(values) == 0 {
		return Summary{}
	}

	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}

	return Summary{
		Count:   len(values),
		Average: sum / float64(len(values)),
		P50:     percentile(values, 50),
		P95:     percentile(values, 95),
		P99:     percentile(values, 99),
		Max:     values[len(values)-1],
	}
}

// percentile expects sorted values
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
