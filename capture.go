package cameraframework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/likelystudying/camera-framework/internal/fpsstats"
)

// Capture reads up to n frames synchronously from an Opened device, for
// snapshots without starting a session.
//
// It stops at the first failed read and returns the frames read so far
// together with the error. Closed or Streaming returns a *PreconditionError.
func (c *Controller) Capture(ctx context.Context, n int) ([]Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != Opened {
		return nil, &PreconditionError{Op: "Capture", State: st}
	}
	if n <= 0 {
		return nil, nil
	}

	frames := make([]Frame, 0, n)
	for len(frames) < n {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		f, err := c.source.ReadFrame()
		if err != nil {
			c.log.Warn("camera-framework: capture stopped on read failure",
				"captured", len(frames),
				"requested", n,
				"error", err,
			)
			return frames, fmt.Errorf("camera-framework: capture stopped after %d of %d frames: %w",
				len(frames), n, err)
		}
		f.Seq = uint64(len(frames) + 1)
		if f.Timestamp.IsZero() {
			f.Timestamp = c.clk.Now()
		}
		if f.TraceID == "" {
			f.TraceID = uuid.NewString()
		}
		frames = append(frames, f)
	}

	c.log.Debug("camera-framework: capture complete", "frames", len(frames))
	return frames, nil
}

// Describe reports device properties. It is only allowed while Opened; a
// source without the capability returns ErrNotSupported.
func (c *Controller) Describe() (DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != Opened {
		return DeviceInfo{}, &PreconditionError{Op: "Describe", State: st}
	}
	d, ok := c.source.(Describer)
	if !ok {
		return DeviceInfo{}, fmt.Errorf("camera-framework: describe: %w", ErrNotSupported)
	}
	info, err := d.Describe()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("camera-framework: describe: %w", err)
	}
	return info, nil
}

// Warmup waits for duration while Streaming and returns rate statistics over
// the frames captured meanwhile.
//
// Returns an error if:
//   - The controller is not Streaming (*PreconditionError)
//   - ctx ends first
//   - Fewer than 2 frames arrived
//
// Only the newest Options.WindowSize timestamps are kept, so very long warmups
// describe their tail.
func (c *Controller) Warmup(ctx context.Context, duration time.Duration) (FPSStats, error) {
	if st := c.State(); st != Streaming {
		return FPSStats{}, &PreconditionError{Op: "Warmup", State: st}
	}

	c.log.Info("camera-framework: starting warmup", "duration", duration)
	start := c.clk.Now()

	timer := c.clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return FPSStats{}, fmt.Errorf("camera-framework: warmup cancelled: %w", ctx.Err())
	}

	times := c.window.Since(start)
	if len(times) < 2 {
		return FPSStats{}, fmt.Errorf("camera-framework: warmup saw %d frames in %v, need at least 2",
			len(times), duration)
	}
	stats := fpsstats.Summarize(times)

	c.log.Info("camera-framework: warmup complete",
		"frames", stats.Frames,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"jitter_mean_ms", fmt.Sprintf("%.1f", stats.JitterMean*1000),
		"stable", stats.IsStable,
	)
	return stats, nil
}
