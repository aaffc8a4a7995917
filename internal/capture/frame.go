// Package capture holds the types shared by the acquisition loop, the frame
// sources and the sinks. The root package re-exports them so clients never
// import this package directly.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// PixelFormat tags the layout of Frame.Data.
type PixelFormat int

const (
	// FormatUnknown means the backend did not report a layout.
	FormatUnknown PixelFormat = iota
	// FormatRGB24 is packed 8-bit R,G,B.
	FormatRGB24
	// FormatBGR24 is packed 8-bit B,G,R (OpenCV and many UVC drivers).
	FormatBGR24
	// FormatRGBA is packed 8-bit R,G,B,A.
	FormatRGBA
	// FormatGray8 is a single 8-bit luma plane.
	FormatGray8
	// FormatI420 is planar YUV 4:2:0.
	FormatI420
)

// String returns a short lowercase name for the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB24:
		return "rgb24"
	case FormatBGR24:
		return "bgr24"
	case FormatRGBA:
		return "rgba"
	case FormatGray8:
		return "gray8"
	case FormatI420:
		return "i420"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the packed pixel size, or 0 for planar/unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB24, FormatBGR24:
		return 3
	case FormatRGBA:
		return 4
	case FormatGray8:
		return 1
	default:
		return 0
	}
}

// ParsePixelFormat maps a config string to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "", "rgb24", "rgb":
		return FormatRGB24, nil
	case "bgr24", "bgr":
		return FormatBGR24, nil
	case "rgba":
		return FormatRGBA, nil
	case "gray8", "gray":
		return FormatGray8, nil
	case "i420":
		return FormatI420, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Frame is a single capture result.
//
// Ownership: produced by the acquisition loop, handed to the queue, then owned
// by whichever consumer pops it. Data MUST NOT be modified once pushed.
type Frame struct {
	// Data is the raw pixel buffer in Format layout.
	Data []byte
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format describes Data
	Format PixelFormat
	// Timestamp is the capture time read from the loop's clock
	Timestamp time.Time
	// Seq is the 1-based sequence number within one streaming session
	Seq uint64
	// TraceID identifies the frame across sinks and logs
	TraceID string
}

// Sample is one queue element: a frame and the capture rate measured when it
// arrived.
type Sample struct {
	Frame Frame
	// FPS is the instantaneous rate 1/Δt between this frame and the previous one.
	FPS float64
}

// Mode is the acquisition geometry and rate requested from a device.
// Zero fields mean "device default".
type Mode struct {
	Width     int
	Height    int
	TargetFPS float64
	Format    PixelFormat
}

// String renders the mode as WxH@fps.
func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.2f/%s", m.Width, m.Height, m.TargetFPS, m.Format)
}

// DeviceInfo is what a backend can tell about an open device.
type DeviceInfo struct {
	Label   string
	Backend string
	Modes   []Mode
	// Properties holds backend-specific readings (exposure, gain, ...).
	Properties map[string]string
}

var (
	// ErrReadFailure means a single read produced no frame. The acquisition
	// loop retries on the next iteration.
	ErrReadFailure = errors.New("no frame available")

	// ErrNotOpen is returned by sources asked to read before Open.
	ErrNotOpen = errors.New("device not open")

	// ErrNotSupported is returned when a backend lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported by backend")
)
