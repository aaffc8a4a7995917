package capture

import "context"

// Source is the device capability consumed by the controller and the loop.
//
// Implementations must guarantee:
//   - Open acquires exactly one handle; a second Open without Release may fail
//   - ReadFrame is only called from one goroutine at a time
//   - ReadFrame returns an error wrapping ErrReadFailure for transient misses
//   - Release is idempotent
type Source interface {
	// Open acquires the device at index.
	Open(ctx context.Context, index int) error

	// IsOpen reports whether a handle is held.
	IsOpen() bool

	// Configure applies an acquisition mode to the open device. Called only
	// while no acquisition loop is running.
	Configure(mode Mode) error

	// ReadFrame returns the next frame. It may block for up to one device
	// frame interval.
	ReadFrame() (Frame, error)

	// Release frees the device handle.
	Release() error
}

// Describer is implemented by sources that can report device properties.
type Describer interface {
	Describe() (DeviceInfo, error)
}

// Sink persists frames. It is used by callers of the controller, never by
// the core itself.
type Sink interface {
	// Save writes frame and returns the path it was written to. hint is a
	// file name or destination suggestion; empty means sink default.
	Save(frame Frame, hint string) (string, error)
}

// Logger is the structured logging capability injected into every component.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
