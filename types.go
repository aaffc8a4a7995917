package cameraframework

import (
	"fmt"
	"time"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/fpsstats"
	"github.com/likelystudying/camera-framework/internal/queue"
)

// Re-exported capture types so clients depend on this package only.
type (
	Frame       = capture.Frame
	Sample      = capture.Sample
	Mode        = capture.Mode
	PixelFormat = capture.PixelFormat
	DeviceInfo  = capture.DeviceInfo
	Source      = capture.Source
	Describer   = capture.Describer
	Sink        = capture.Sink
	Logger      = capture.Logger
	FPSStats    = fpsstats.Stats
	Queue       = queue.Queue[capture.Sample]
)

// Pixel formats.
const (
	FormatUnknown = capture.FormatUnknown
	FormatRGB24   = capture.FormatRGB24
	FormatBGR24   = capture.FormatBGR24
	FormatRGBA    = capture.FormatRGBA
	FormatGray8   = capture.FormatGray8
	FormatI420    = capture.FormatI420
)

// State is the controller lifecycle state.
type State int32

const (
	// Closed means no device handle is held.
	Closed State = iota
	// Opened means the device is held and no acquisition goroutine runs.
	Opened
	// Streaming means exactly one acquisition goroutine runs.
	Streaming
)

// String returns a human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opened:
		return "opened"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Settings is the acquisition configuration. Zero Width, Height and TargetFPS
// leave the device default in place.
type Settings struct {
	// DeviceIndex selects the device opened by the source
	DeviceIndex int
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// TargetFPS is the requested device rate
	TargetFPS float64
	// QueueCapacity bounds the frame queue (default 10)
	QueueCapacity int
}

// Validate rejects values no backend could honour.
func (s Settings) Validate() error {
	if s.DeviceIndex < 0 {
		return fmt.Errorf("camera-framework: invalid device index %d", s.DeviceIndex)
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("camera-framework: invalid resolution %dx%d", s.Width, s.Height)
	}
	if s.TargetFPS < 0 {
		return fmt.Errorf("camera-framework: invalid FPS %.2f", s.TargetFPS)
	}
	if s.QueueCapacity < 0 || s.QueueCapacity > queue.MaxCapacity {
		return fmt.Errorf("camera-framework: invalid queue capacity %d (must be 0-%d)",
			s.QueueCapacity, queue.MaxCapacity)
	}
	return nil
}

func (s Settings) mode() Mode {
	return Mode{Width: s.Width, Height: s.Height, TargetFPS: s.TargetFPS}
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	// State at the time of the call
	State State
	// Sessions is the number of streaming sessions started
	Sessions uint64
	// SessionID identifies the current or last session
	SessionID string
	// Frames captured in the current or last session
	Frames uint64
	// FramesDropped is the lifetime number of queue evictions
	FramesDropped uint64
	// ReadFailures in the current or last session
	ReadFailures uint64
	// LastFPS is the rate attached to the newest sample
	LastFPS float64
	// QueueLen is the number of samples waiting for consumers
	QueueLen int
	// QueueCap is the current queue capacity
	QueueCap int
	// Window holds rate statistics over recent capture timestamps
	Window FPSStats
	// Uptime of the current session, zero when not streaming
	Uptime time.Duration
	// LastError is the error that ended the last session early, if any
	LastError error
}
