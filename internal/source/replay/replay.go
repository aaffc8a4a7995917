// Package replay plays a msgpack recording back as a frame source.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/record"
)

// Options configures a Source.
type Options struct {
	// Path of the recording. Required.
	Path string
	// Loop rewinds at the end of the recording instead of running dry.
	Loop bool
	// Realtime sleeps between frames for the gap between their recorded
	// timestamps, capped at one second.
	Realtime bool
}

// Source serves the frames of one recording. Only index 0 exists.
type Source struct {
	opts Options

	mu     sync.Mutex
	reader *record.Reader
	last   time.Time
	played uint64
}

// New returns a closed Source.
func New(opts Options) (*Source, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("replay: recording path is required")
	}
	return &Source{opts: opts}, nil
}

// Open opens the recording.
func (s *Source) Open(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index != 0 {
		return fmt.Errorf("replay: no device at index %d", index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return fmt.Errorf("replay: %s already open", s.opts.Path)
	}
	r, err := record.Open(s.opts.Path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	s.reader = r
	s.last = time.Time{}
	return nil
}

// IsOpen reports whether the recording is open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// Configure is a no-op on an open recording; its geometry is fixed.
func (s *Source) Configure(capture.Mode) error {
	if !s.IsOpen() {
		return capture.ErrNotOpen
	}
	return nil
}

// ReadFrame returns the next recorded frame. Timestamp, Seq and TraceID are
// cleared so the acquisition loop stamps them for the live session.
func (s *Source) ReadFrame() (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return capture.Frame{}, capture.ErrNotOpen
	}

	rec, err := s.reader.Next()
	if errors.Is(err, io.EOF) && s.opts.Loop {
		if err := s.rewindLocked(); err != nil {
			return capture.Frame{}, err
		}
		rec, err = s.reader.Next()
	}
	if errors.Is(err, io.EOF) {
		return capture.Frame{}, fmt.Errorf("replay: end of recording: %w", capture.ErrReadFailure)
	}
	if err != nil {
		return capture.Frame{}, fmt.Errorf("replay: %w: %w", capture.ErrReadFailure, err)
	}

	if s.opts.Realtime && !s.last.IsZero() {
		if gap := rec.Timestamp.Sub(s.last); gap > 0 {
			time.Sleep(min(gap, time.Second))
		}
	}
	s.last = rec.Timestamp

	f, err := rec.Frame()
	if err != nil {
		return capture.Frame{}, fmt.Errorf("replay: %w: %w", capture.ErrReadFailure, err)
	}
	f.Timestamp, f.Seq, f.TraceID = time.Time{}, 0, ""
	s.played++
	return f, nil
}

func (s *Source) rewindLocked() error {
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("replay: rewind: %w", err)
	}
	r, err := record.Open(s.opts.Path)
	if err != nil {
		s.reader = nil
		return fmt.Errorf("replay: rewind: %w", err)
	}
	s.reader = r
	s.last = time.Time{}
	return nil
}

// Release closes the recording. Idempotent.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// Describe reports the recording.
func (s *Source) Describe() (capture.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return capture.DeviceInfo{}, capture.ErrNotOpen
	}
	return capture.DeviceInfo{
		Label:   s.opts.Path,
		Backend: "replay",
		Properties: map[string]string{
			"loop":     fmt.Sprint(s.opts.Loop),
			"realtime": fmt.Sprint(s.opts.Realtime),
			"played":   fmt.Sprint(s.played),
		},
	}, nil
}
