package pipeline

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// RollingStats keeps the most recent N observations and computes
// summary statistics over them. Used for per-tick processing times.
type RollingStats struct {
	mu     sync.Mutex
	values []float64
	next   int
	full   bool
}

// StatsSummary is a point-in-time summary of the rolling window.
type StatsSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// NewRollingStats returns a window holding up to size observations;
// sizes < 1 default to 300.
func NewRollingStats(size int) *RollingStats {
	if size < 1 {
		size = 300
	}
	return &RollingStats{values: make([]float64, size)}
}

// Observe adds one value, evicting the oldest when the window is full.
func (r *RollingStats) Observe(v float64) {
	r.mu.Lock()
	r.values[r.next] = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Summary computes statistics over the current window contents.
func (r *RollingStats) Summary() StatsSummary {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.values)
	}
	window := make([]float64, n)
	copy(window, r.values[:n])
	r.mu.Unlock()

	if n == 0 {
		return StatsSummary{}
	}

	sort.Float64s(window)
	mean, std := stat.MeanStdDev(window, nil)
	summary := StatsSummary{
		Count: n,
		Mean:  mean,
		P50:   stat.Quantile(0.5, stat.Empirical, window, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, window, nil),
		Max:   window[n-1],
	}
	// StdDev of a single observation is NaN; report zero instead.
	if n > 1 {
		summary.StdDev = std
	}
	return summary
}
