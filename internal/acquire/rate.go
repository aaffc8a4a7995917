package acquire

import "time"

// RateMeter turns successive capture timestamps into an instantaneous rate.
//
// Not safe for concurrent use; it belongs to the acquisition goroutine.
type RateMeter struct {
	prev time.Time
	last float64
}

// NewRateMeter starts measuring from start.
func NewRateMeter(start time.Time) *RateMeter {
	return &RateMeter{prev: start}
}

// Observe records a capture at now and returns 1/(now-prev).
//
// A zero or negative delta (coarse clock, clock step backwards) keeps the
// previously computed rate, zero if there is none, instead of dividing by
// zero or reporting a negative rate. prev only advances on a positive delta.
func (m *RateMeter) Observe(now time.Time) float64 {
	delta := now.Sub(m.prev)
	if delta <= 0 {
		return m.last
	}
	m.last = 1.0 / delta.Seconds()
	m.prev = now
	return m.last
}

// Last returns the most recently computed rate.
func (m *RateMeter) Last() float64 {
	return m.last
}
