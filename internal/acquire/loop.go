// Package acquire runs the capture side of the pipeline: one goroutine that
// reads frames from a source, measures the capture rate and pushes samples
// into a bounded queue.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/fpsstats"
	"github.com/likelystudying/camera-framework/internal/queue"
)

// ErrTooManyFailures is returned by Run when MaxConsecutiveFailures is set and
// reached.
var ErrTooManyFailures = errors.New("acquire: too many consecutive read failures")

// Config wires a Loop to its collaborators.
type Config struct {
	Source capture.Source
	Queue  *queue.Queue[capture.Sample]

	// Clock defaults to the wall clock. Tests inject clock.NewMock().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger capture.Logger
	// Window receives every capture timestamp when non-nil.
	Window *fpsstats.Window

	// MaxConsecutiveFailures ends Run once that many reads fail in a row.
	// 0 retries forever and leaves stopping to the caller.
	MaxConsecutiveFailures int
	Backoff                BackoffConfig
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Frames              uint64  // Frames pushed this session
	ReadFailures        uint64  // Failed reads this session
	ConsecutiveFailures uint64  // Current failure streak
	LastFPS             float64 // Rate attached to the most recent sample
}

// Loop bridges a Source to a Queue. One Loop serves one streaming session.
//
// Thread-safety: Run executes on the acquisition goroutine; Stats may be
// called from any goroutine.
type Loop struct {
	cfg    Config
	warner *rate.Sometimes

	frames              atomic.Uint64
	readFailures        atomic.Uint64
	consecutiveFailures atomic.Uint64
	lastFPSBits         atomic.Uint64
}

// New validates cfg and returns a Loop ready to Run.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("acquire: source is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("acquire: queue is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConsecutiveFailures < 0 {
		return nil, fmt.Errorf("acquire: invalid MaxConsecutiveFailures %d", cfg.MaxConsecutiveFailures)
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	return &Loop{
		cfg:    cfg,
		warner: &rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}, nil
}

// Run reads frames until ctx is cancelled.
//
// Algorithm:
//  1. prev = now
//  2. Until ctx is done: read; on failure back off and retry; on success
//     compute 1/(now-prev), stamp the frame, push it
//  3. On cancellation return nil without touching the source again
//
// Returns an error only when the source is not open on entry or when
// MaxConsecutiveFailures is reached.
func (l *Loop) Run(ctx context.Context) error {
	if !l.cfg.Source.IsOpen() {
		return fmt.Errorf("acquire: %w", capture.ErrNotOpen)
	}

	meter := NewRateMeter(l.cfg.Clock.Now())

	l.cfg.Logger.Debug("acquire: loop started")
	defer l.cfg.Logger.Debug("acquire: loop exited",
		"frames", l.frames.Load(),
		"read_failures", l.readFailures.Load(),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := l.cfg.Source.ReadFrame()
		if err != nil {
			if stop, escalate := l.onReadFailure(ctx, err); stop {
				return escalate
			}
			continue
		}
		l.consecutiveFailures.Store(0)

		now := l.cfg.Clock.Now()
		fps := meter.Observe(now)
		l.lastFPSBits.Store(math.Float64bits(fps))

		frame.Seq = l.frames.Add(1)
		if frame.Timestamp.IsZero() {
			frame.Timestamp = now
		}
		if frame.TraceID == "" {
			frame.TraceID = uuid.NewString()
		}
		if l.cfg.Window != nil {
			l.cfg.Window.Add(now)
		}

		if evicted := l.cfg.Queue.Push(capture.Sample{Frame: frame, FPS: fps}); evicted {
			l.cfg.Logger.Debug("acquire: queue full, dropped oldest frame",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
			)
		}
	}
}

// onReadFailure counts a failed read and waits out the backoff.
//
// stop reports that Run must return; err is nil for cancellation and non-nil
// when the failure budget is exhausted.
func (l *Loop) onReadFailure(ctx context.Context, readErr error) (stop bool, err error) {
	l.readFailures.Add(1)
	streak := l.consecutiveFailures.Add(1)

	if !errors.Is(readErr, capture.ErrReadFailure) {
		l.cfg.Logger.Debug("acquire: unexpected read error, retrying", "error", readErr)
	}
	l.warner.Do(func() {
		l.cfg.Logger.Warn("acquire: read failures, retrying",
			"consecutive", streak,
			"total", l.readFailures.Load(),
			"error", readErr,
		)
	})

	if budget := l.cfg.MaxConsecutiveFailures; budget > 0 && streak >= uint64(budget) {
		l.cfg.Logger.Error("acquire: giving up after consecutive read failures",
			"consecutive", streak,
			"error", readErr,
		)
		return true, fmt.Errorf("%w (%d): %w", ErrTooManyFailures, streak, readErr)
	}

	delay := calculateBackoff(int(min(streak, math.MaxInt32)), l.cfg.Backoff)
	if delay == 0 {
		return false, nil
	}
	timer := l.cfg.Clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return true, nil
	}
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:              l.frames.Load(),
		ReadFailures:        l.readFailures.Load(),
		ConsecutiveFailures: l.consecutiveFailures.Load(),
		LastFPS:             math.Float64frombits(l.lastFPSBits.Load()),
	}
}
