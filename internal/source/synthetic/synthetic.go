// Package synthetic provides a test-pattern frame source. It needs no
// hardware and is used by tests, demos and the "synthetic" device kind.
package synthetic

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/likelystudying/camera-framework/internal/capture"
)

// Options configures a Source. Zero values select the defaults noted.
type Options struct {
	Width  int                 // default 320
	Height int                 // default 240
	Format capture.PixelFormat // default RGB24
	// Devices is the number of indices Open accepts (0..Devices-1). Default 1.
	Devices int
	// Interval paces ReadFrame like a real device would. 0 returns immediately.
	Interval time.Duration
	// FailOpen, when set, is returned by every Open call.
	FailOpen error
	// FailEvery makes every n-th read return capture.ErrReadFailure.
	FailEvery int
}

// Source generates a moving gradient. It records how often it was opened,
// read and released so tests can assert on handle lifetimes.
type Source struct {
	opts   Options
	serial string

	mu    sync.Mutex
	open  bool
	index int
	mode  capture.Mode
	tick  uint64

	opens    atomic.Int64
	releases atomic.Int64
	reads    atomic.Int64
}

// New returns a closed Source.
func New(opts Options) *Source {
	if opts.Width <= 0 {
		opts.Width = 320
	}
	if opts.Height <= 0 {
		opts.Height = 240
	}
	if opts.Format == capture.FormatUnknown {
		opts.Format = capture.FormatRGB24
	}
	if opts.Devices <= 0 {
		opts.Devices = 1
	}
	return &Source{
		opts:   opts,
		serial: uuid.NewString(),
		mode: capture.Mode{
			Width:  opts.Width,
			Height: opts.Height,
			Format: opts.Format,
		},
	}
}

// Open acquires the virtual device at index.
func (s *Source) Open(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.FailOpen != nil {
		return s.opts.FailOpen
	}
	if index < 0 || index >= s.opts.Devices {
		return fmt.Errorf("synthetic: no device at index %d", index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("synthetic: device %d already open", s.index)
	}
	s.open = true
	s.index = index
	s.tick = 0
	s.opens.Add(1)
	return nil
}

// IsOpen reports whether a handle is held.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Configure changes the generated geometry. Zero fields keep the current value.
func (s *Source) Configure(mode capture.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return capture.ErrNotOpen
	}
	if mode.Format == capture.FormatI420 {
		return fmt.Errorf("synthetic: format %s: %w", mode.Format, capture.ErrNotSupported)
	}
	if mode.Width > 0 {
		s.mode.Width = mode.Width
	}
	if mode.Height > 0 {
		s.mode.Height = mode.Height
	}
	if mode.TargetFPS > 0 {
		s.mode.TargetFPS = mode.TargetFPS
	}
	if mode.Format != capture.FormatUnknown {
		s.mode.Format = mode.Format
	}
	return nil
}

// ReadFrame renders the next pattern frame.
func (s *Source) ReadFrame() (capture.Frame, error) {
	if d := s.interval(); d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return capture.Frame{}, capture.ErrNotOpen
	}
	s.tick++
	tick := s.tick
	mode := s.mode
	s.mu.Unlock()

	s.reads.Add(1)
	if n := s.opts.FailEvery; n > 0 && tick%uint64(n) == 0 {
		return capture.Frame{}, fmt.Errorf("synthetic: tick %d: %w", tick, capture.ErrReadFailure)
	}

	return capture.Frame{
		Data:   render(mode, tick),
		Width:  mode.Width,
		Height: mode.Height,
		Format: mode.Format,
	}, nil
}

// interval is the configured pace, or the target frame interval when the
// mode asks for a rate and no explicit pace was given.
func (s *Source) interval() time.Duration {
	if s.opts.Interval > 0 {
		return s.opts.Interval
	}
	s.mu.Lock()
	fps := s.mode.TargetFPS
	s.mu.Unlock()
	if fps > 0 {
		return time.Duration(float64(time.Second) / fps)
	}
	return 0
}

// Release frees the handle. Releasing a closed source is a no-op.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.releases.Add(1)
	return nil
}

// Describe reports the virtual device.
func (s *Source) Describe() (capture.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return capture.DeviceInfo{}, capture.ErrNotOpen
	}
	return capture.DeviceInfo{
		Label:   fmt.Sprintf("synthetic test pattern %d", s.index),
		Backend: "synthetic",
		Modes: []capture.Mode{
			{Width: 320, Height: 240, TargetFPS: 30, Format: capture.FormatRGB24},
			{Width: 640, Height: 480, TargetFPS: 30, Format: capture.FormatRGB24},
			{Width: 1280, Height: 720, TargetFPS: 15, Format: capture.FormatRGB24},
		},
		Properties: map[string]string{
			"serial": s.serial,
			"width":  strconv.Itoa(s.mode.Width),
			"height": strconv.Itoa(s.mode.Height),
			"format": s.mode.Format.String(),
		},
	}, nil
}

// Opens returns how many times Open succeeded.
func (s *Source) Opens() int64 { return s.opens.Load() }

// Releases returns how many times an open handle was released.
func (s *Source) Releases() int64 { return s.releases.Load() }

// Reads returns how many ReadFrame calls reached an open device.
func (s *Source) Reads() int64 { return s.reads.Load() }

// render draws a diagonal gradient shifted by tick so consecutive frames differ.
func render(mode capture.Mode, tick uint64) []byte {
	bpp := mode.Format.BytesPerPixel()
	data := make([]byte, mode.Width*mode.Height*bpp)
	shift := byte(tick)
	for y := 0; y < mode.Height; y++ {
		row := data[y*mode.Width*bpp:]
		for x := 0; x < mode.Width; x++ {
			v := byte(x+y) + shift
			px := row[x*bpp : x*bpp+bpp]
			switch mode.Format {
			case capture.FormatGray8:
				px[0] = v
			case capture.FormatBGR24:
				px[0], px[1], px[2] = 255-v, byte(y), v
			case capture.FormatRGBA:
				px[0], px[1], px[2], px[3] = v, byte(y), 255-v, 255
			default:
				px[0], px[1], px[2] = v, byte(y), 255-v
			}
		}
	}
	return data
}
