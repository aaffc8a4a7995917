package cameraframework

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/likelystudying/camera-framework/internal/acquire"
	"github.com/likelystudying/camera-framework/internal/fpsstats"
	"github.com/likelystudying/camera-framework/internal/queue"
)

// DefaultJoinWarnAfter is how long StopStreaming waits for the acquisition
// goroutine before logging a warning. The wait itself is not cut short.
const DefaultJoinWarnAfter = 3 * time.Second

// DefaultWindowSize keeps about thirty seconds of capture timestamps at 30 FPS
// for Warmup and Stats.
const DefaultWindowSize = 1024

// Options configures a Controller. Zero values select defaults.
type Options struct {
	// Logger defaults to slog.Default().
	Logger Logger
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Settings are the initially applied (and pending) settings.
	Settings Settings
	// JoinWarnAfter defaults to DefaultJoinWarnAfter.
	JoinWarnAfter time.Duration
	// MaxConsecutiveFailures ends a session after that many failed reads in a
	// row. 0 retries forever.
	MaxConsecutiveFailures int
	// Backoff bounds the pause between failed reads.
	Backoff acquire.BackoffConfig
	// WindowSize bounds the capture timestamp history (default DefaultWindowSize).
	WindowSize int
}

// session is one run of the acquisition goroutine.
type session struct {
	id      string
	loop    *acquire.Loop
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	// err is written by the acquisition goroutine before done is closed.
	err atomic.Pointer[error]
}

// Controller is the public state machine over one Source.
//
// Thread-safety: all lifecycle and settings methods are safe for concurrent
// use and serialize on mu. State, Stats and Queue do not take mu and never
// wait for a lifecycle call to finish.
type Controller struct {
	source Source
	log    Logger
	clk    clock.Clock
	opts   Options

	queue  *Queue
	window *fpsstats.Window

	// mu serializes lifecycle and settings operations. The acquisition
	// goroutine never takes it.
	mu         sync.Mutex
	pending    Settings
	applied    Settings
	openIndex  int
	configured Mode

	state    atomic.Int32
	sessions atomic.Uint64

	// sessMu guards cur; held only for pointer swaps and reads.
	sessMu sync.Mutex
	cur    *session

	hooksMu sync.Mutex
	hooks   []func(old, new State)
}

// NewController creates a Closed controller over source. Options.Settings
// must be valid; invalid values fall back to zero settings with an error log.
func NewController(source Source, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.JoinWarnAfter <= 0 {
		opts.JoinWarnAfter = DefaultJoinWarnAfter
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if err := opts.Settings.Validate(); err != nil {
		opts.Logger.Error("camera-framework: ignoring invalid initial settings", "error", err)
		opts.Settings = Settings{}
	}

	c := &Controller{
		source:  source,
		log:     opts.Logger,
		clk:     opts.Clock,
		opts:    opts,
		queue:   queue.New[Sample](opts.Settings.QueueCapacity),
		window:  fpsstats.NewWindow(opts.WindowSize),
		pending: opts.Settings,
		applied: opts.Settings,
	}
	c.state.Store(int32(Closed))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Queue returns the frame queue consumers drain. The same queue serves every
// session of this controller.
func (c *Controller) Queue() *Queue {
	return c.queue
}

// OnStateChange registers fn to run after every state transition. Hooks run
// on the goroutine that caused the transition while the lifecycle lock is
// held: they may call State, Stats or Queue but no lifecycle method.
func (c *Controller) OnStateChange(fn func(old, new State)) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.log.Debug("camera-framework: state changed", "from", old.String(), "to", s.String())

	c.hooksMu.Lock()
	hooks := append([]func(old, new State){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(old, s)
	}
}

// Open acquires the device at index and moves to Opened.
//
// A controller that already holds a device stops streaming and releases it
// first, so a handle is never leaked. index becomes the applied and pending
// device index. On failure the controller is Closed and the error is a
// *DeviceOpenError.
func (c *Controller) Open(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Closed {
		c.log.Info("camera-framework: reopening device",
			"old_index", c.openIndex,
			"new_index", index,
		)
		if err := c.closeLocked(); err != nil {
			c.log.Warn("camera-framework: release before reopen failed", "error", err)
		}
	}

	c.applied.DeviceIndex = index
	c.pending.DeviceIndex = index
	return c.openLocked(ctx, index)
}

func (c *Controller) openLocked(ctx context.Context, index int) error {
	if err := c.source.Open(ctx, index); err != nil {
		c.log.Error("camera-framework: failed to open device", "index", index, "error", err)
		return &DeviceOpenError{Index: index, Err: err}
	}

	mode := c.applied.mode()
	if mode != (Mode{}) {
		if err := c.source.Configure(mode); err != nil {
			if relErr := c.source.Release(); relErr != nil {
				c.log.Warn("camera-framework: release after failed configure", "error", relErr)
			}
			c.log.Error("camera-framework: failed to configure device",
				"index", index,
				"mode", mode.String(),
				"error", err,
			)
			return &DeviceOpenError{Index: index, Err: fmt.Errorf("configure %s: %w", mode, err)}
		}
	}

	c.openIndex = index
	c.configured = mode
	c.setState(Opened)

	c.log.Info("camera-framework: device opened",
		"index", index,
		"mode", mode.String(),
	)
	return nil
}

// StartStreaming spawns the acquisition goroutine.
//
// Closed returns a *PreconditionError; Streaming is a logged no-op. From
// Opened, the applied settings are brought into effect first: a changed
// device index reopens the device, a changed mode reconfigures it, and the
// queue is resized and cleared of samples from the previous session.
//
// ctx bounds only the reopen. The session runs until StopStreaming or Close.
func (c *Controller) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Closed:
		return &PreconditionError{Op: "StartStreaming", State: Closed}
	case Streaming:
		c.log.Info("camera-framework: already streaming, ignoring start")
		return nil
	}

	if c.applied.DeviceIndex != c.openIndex {
		c.log.Info("camera-framework: device index changed, reopening",
			"old_index", c.openIndex,
			"new_index", c.applied.DeviceIndex,
		)
		if err := c.source.Release(); err != nil {
			c.log.Warn("camera-framework: release before reopen failed", "error", err)
		}
		c.setState(Closed)
		if err := c.openLocked(ctx, c.applied.DeviceIndex); err != nil {
			return err
		}
	} else if mode := c.applied.mode(); mode != c.configured {
		if err := c.source.Configure(mode); err != nil {
			return fmt.Errorf("camera-framework: configure %s: %w", mode, err)
		}
		c.configured = mode
		c.log.Info("camera-framework: device reconfigured", "mode", mode.String())
	}

	c.queue.Resize(c.applied.QueueCapacity)
	c.queue.Clear()
	c.queue.Reopen()
	c.window.Reset()

	loop, err := acquire.New(acquire.Config{
		Source:                 c.source,
		Queue:                  c.queue,
		Clock:                  c.clk,
		Logger:                 c.log,
		Window:                 c.window,
		MaxConsecutiveFailures: c.opts.MaxConsecutiveFailures,
		Backoff:                c.opts.Backoff,
	})
	if err != nil {
		return fmt.Errorf("camera-framework: %w", err)
	}

	// The session outlives ctx: only StopStreaming ends it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:      uuid.NewString(),
		loop:    loop,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: c.clk.Now(),
	}

	c.sessMu.Lock()
	c.cur = s
	c.sessMu.Unlock()
	c.sessions.Add(1)

	go func() {
		defer close(s.done)
		if err := loop.Run(loopCtx); err != nil {
			s.err.Store(&err)
			c.log.Error("camera-framework: acquisition ended early",
				"session_id", s.id,
				"error", err,
			)
		}
	}()

	c.setState(Streaming)
	c.log.Info("camera-framework: streaming started",
		"session_id", s.id,
		"index", c.openIndex,
		"mode", c.configured.String(),
		"queue_capacity", c.queue.Cap(),
	)
	return nil
}

// StopStreaming cancels the acquisition goroutine and waits for it to exit.
//
// Outside Streaming it does nothing. Idempotent and safe for concurrent use.
// The returned error is the one that ended the session early, if any.
func (c *Controller) StopStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if c.State() != Streaming {
		c.log.Debug("camera-framework: not streaming, nothing to stop")
		return nil
	}

	c.sessMu.Lock()
	s := c.cur
	c.sessMu.Unlock()

	c.log.Info("camera-framework: stopping streaming", "session_id", s.id)
	s.cancel()

	timer := c.clk.Timer(c.opts.JoinWarnAfter)
	select {
	case <-s.done:
	case <-timer.C:
		c.log.Warn("camera-framework: acquisition goroutine slow to exit, still waiting",
			"session_id", s.id,
			"waited", c.opts.JoinWarnAfter,
		)
		<-s.done
	}
	timer.Stop()

	c.setState(Opened)

	stats := s.loop.Stats()
	c.log.Info("camera-framework: streaming stopped",
		"session_id", s.id,
		"frames_captured", stats.Frames,
		"read_failures", stats.ReadFailures,
		"frames_dropped", c.queue.Dropped(),
		"uptime", c.clk.Since(s.started),
	)

	if errp := s.err.Load(); errp != nil {
		return *errp
	}
	return nil
}

// Close stops streaming, releases the device and moves to Closed. Consumers
// blocked in Queue().PopWait are woken. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Closed {
		return nil
	}
	err := c.closeLocked()
	c.queue.Close()
	c.log.Info("camera-framework: device closed", "index", c.openIndex)
	return err
}

func (c *Controller) closeLocked() error {
	err := c.stopLocked()
	if relErr := c.source.Release(); relErr != nil {
		err = multierr.Append(err, fmt.Errorf("camera-framework: release device %d: %w", c.openIndex, relErr))
	}
	c.setState(Closed)
	return err
}

// Stats returns counters for the current or last session.
func (c *Controller) Stats() Stats {
	st := Stats{
		State:         c.State(),
		Sessions:      c.sessions.Load(),
		FramesDropped: c.queue.Dropped(),
		QueueLen:      c.queue.Len(),
		QueueCap:      c.queue.Cap(),
		Window:        c.window.Snapshot(),
	}

	c.sessMu.Lock()
	s := c.cur
	c.sessMu.Unlock()
	if s == nil {
		return st
	}

	ls := s.loop.Stats()
	st.SessionID = s.id
	st.Frames = ls.Frames
	st.ReadFailures = ls.ReadFailures
	st.LastFPS = ls.LastFPS
	if errp := s.err.Load(); errp != nil {
		st.LastError = *errp
	}
	if st.State == Streaming {
		st.Uptime = c.clk.Since(s.started)
	}
	return st
}
