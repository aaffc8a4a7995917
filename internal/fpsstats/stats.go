// Package fpsstats computes capture-rate statistics from frame timestamps.
package fpsstats

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// Stats summarizes the rate of a run of frames.
type Stats struct {
	Frames       int           // Number of timestamps analysed
	Duration     time.Duration // Observation window
	FPSMean      float64       // Frames / window
	FPSStdDev    float64       // Standard deviation of instantaneous FPS
	FPSMin       float64       // Minimum instantaneous FPS
	FPSMax       float64       // Maximum instantaneous FPS
	JitterMean   float64       // Mean |interval - expected interval| (seconds)
	JitterStdDev float64       // Standard deviation of jitter (seconds)
	JitterMax    float64       // Maximum jitter observed (seconds)
	IsStable     bool          // stddev < 15% of mean AND jitter < 20% of interval
}

// Calculate computes Stats from ordered frame timestamps observed over window.
//
// Intervals that are zero or negative (clock steps, duplicate timestamps) are
// skipped instead of producing infinite or negative rates.
func Calculate(frameTimes []time.Time, window time.Duration) Stats {
	n := len(frameTimes)
	stats := Stats{Frames: n, Duration: window}
	if n == 0 || window <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / window.Seconds()

	instantaneous := make([]float64, 0, n-1)
	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
			intervals = append(intervals, interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stdDev(instantaneous, stats.FPSMean)

	expectedInterval := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var jitterSum float64
	for i, interval := range intervals {
		jitters[i] = math.Abs(interval - expectedInterval)
		jitterSum += jitters[i]
		stats.JitterMax = math.Max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = jitterSum / float64(len(jitters))
	stats.JitterStdDev = stdDev(jitters, stats.JitterMean)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expectedInterval*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

// Summarize computes Stats using the span between the first and last
// timestamp as the observation window. Fewer than two timestamps, or a
// non-positive span, yield only the frame count.
func Summarize(frameTimes []time.Time) Stats {
	n := len(frameTimes)
	if n < 2 {
		return Stats{Frames: n}
	}
	span := frameTimes[n-1].Sub(frameTimes[0])
	if span <= 0 {
		return Stats{Frames: n}
	}
	// n timestamps span n-1 intervals; scale the window so FPSMean is the
	// interval rate rather than undercounting by one frame.
	return Calculate(frameTimes, span*time.Duration(n)/time.Duration(n-1))
}

func stdDev(values []float64, mean float64) float64 {
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
