package toolcall

import (
	"slices"
	"sync"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// ToolStats is a point-in-time view of a registered tool's recent behaviour.
type ToolStats struct {
	Name      string  `json:"name"`
	Source    string  `json:"source"`
	Calls     int     `json:"calls"`
	Errors    int     `json:"errors"`
	P50Ms     int64   `json:"p50_ms"`
	P99Ms     int64   `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
}

// rollingWindow keeps the last N call latencies and outcomes of one tool.
// All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []int64 // latency ring buffer in ms
	failed  []bool  // outcome per slot, parallel to samples
	pos     int     // next write position
	count   int     // total samples written (may exceed size)
	errors  int     // total errors written (may exceed size)
	size    int
}

// newRollingWindow creates a window with the given capacity. A size of 0 or
// less defaults to 100.
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]int64, size),
		failed:  make([]bool, size),
		size:    size,
	}
}

// Record adds one call outcome, overwriting the oldest once the ring is full.
func (w *rollingWindow) Record(latencyMs int64, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.pos] = latencyMs
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % w.size
	w.count++
	if isError {
		w.errors++
	}
}

// windowLen returns the number of meaningful samples. Must be called with
// w.mu held.
func (w *rollingWindow) windowLen() int {
	return min(w.count, w.size)
}

// sortedCopy returns a sorted copy of the window. Must be called with w.mu held.
func (w *rollingWindow) sortedCopy() []int64 {
	n := w.windowLen()
	if n == 0 {
		return nil
	}
	cp := make([]int64, n)
	copy(cp, w.samples[:n])
	slices.Sort(cp)
	return cp
}

// percentile returns the q-quantile (0..1) of the window in ms, or 0 when
// the window is empty.
func (w *rollingWindow) percentile(q float64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedCopy()
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*q)]
}

// P50 returns the median latency in ms.
func (w *rollingWindow) P50() int64 { return w.percentile(0.5) }

// P99 returns the 99th-percentile latency in ms.
func (w *rollingWindow) P99() int64 { return w.percentile(0.99) }

// ErrorRate returns the fraction of failed calls in the current window.
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLen()
	if n == 0 {
		return 0
	}
	failed := 0
	for _, f := range w.failed[:n] {
		if f {
			failed++
		}
	}
	return float64(failed) / float64(n)
}

// Totals returns the lifetime call and error counts.
func (w *rollingWindow) Totals() (calls, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.errors
}
