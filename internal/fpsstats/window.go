package fpsstats

import (
	"sync"
	"time"
)

// DefaultWindowSize keeps about four seconds of history at 30 FPS.
const DefaultWindowSize = 128

// Window is a bounded ring of recent capture timestamps.
//
// Written by the acquisition goroutine, read by any goroutine asking for
// stats; all access goes through mu.
type Window struct {
	mu      sync.Mutex
	samples []time.Time
	next    int
	count   int
}

// NewWindow creates a window holding at most size timestamps.
func NewWindow(size int) *Window {
	if size < 2 {
		size = DefaultWindowSize
	}
	return &Window{samples: make([]time.Time, size)}
}

// Add records a capture timestamp, overwriting the oldest when full.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	w.samples[w.next] = t
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
	w.mu.Unlock()
}

// Reset drops all recorded timestamps.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.count = 0
	w.mu.Unlock()
}

// Since returns, oldest first, every recorded timestamp not before t.
func (w *Window) Since(t time.Time) []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]time.Time, 0, w.count)
	start := (w.next - w.count + len(w.samples)) % len(w.samples)
	for i := 0; i < w.count; i++ {
		ts := w.samples[(start+i)%len(w.samples)]
		if !ts.Before(t) {
			out = append(out, ts)
		}
	}
	return out
}

// Snapshot computes Stats over everything in the window.
func (w *Window) Snapshot() Stats {
	return Summarize(w.Since(time.Time{}))
}
