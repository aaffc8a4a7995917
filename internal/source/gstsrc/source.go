// Package gstsrc is a GStreamer frame source. Frames are pulled from an appsink
// at the end of a videotestsrc, v4l2src or rtspsrc pipeline.
//
// Requires the gstreamer1.0 runtime and development headers.
package gstsrc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/likelystudying/camera-framework/internal/capture"
)

// minPullTimeout bounds a single ReadFrame when no rate is configured.
const minPullTimeout = 100 * time.Millisecond

var initOnce sync.Once

// Source implements capture.Source over a GStreamer pipeline.
//
// Thread-safety: Open, Configure and Release serialize on mu; ReadFrame is
// called from the acquisition goroutine only while no lifecycle call runs.
type Source struct {
	cfg Config
	log capture.Logger

	mu       sync.Mutex
	opened   bool
	rc       reconnector
	pipeline *gst.Pipeline
	appsink  *app.Sink
	index    int
	mode     capture.Mode
	launch   string
	lastCaps string

	bytesRead     atomic.Uint64
	errorsDevice  atomic.Uint64
	errorsFormat  atomic.Uint64
	errorsAuth    atomic.Uint64
	errorsUnknown atomic.Uint64
}

// New validates cfg. GStreamer is initialized lazily on the first Open.
func New(cfg Config, logger capture.Logger) (*Source, error) {
	if _, err := buildLaunch(cfg, 0, capture.Mode{}); err != nil {
		return nil, fmt.Errorf("gst: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, log: logger, mode: capture.Mode{Format: capture.FormatRGB24}}, nil
}

// Open builds the pipeline for index and sets it playing.
func (s *Source) Open(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("gst: device %d already open", s.index)
	}
	initOnce.Do(func() { gst.Init(nil) })

	s.index = index
	if err := s.startLocked(); err != nil {
		return err
	}
	s.opened = true
	s.rc = reconnector{cfg: s.cfg.Reconnect.withDefaults()}
	return nil
}

func (s *Source) startLocked() error {
	launch, err := buildLaunch(s.cfg, s.index, s.mode)
	if err != nil {
		return fmt.Errorf("gst: %w", err)
	}

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("gst: failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return fmt.Errorf("gst: appsink not found: %w", err)
	}
	appsink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gst: failed to start pipeline: %w", err)
	}
	// Surface immediate failures (missing device, bad caps) from Open itself.
	if err := s.drainBus(pipeline, 500*time.Millisecond); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return err
	}

	s.pipeline, s.appsink, s.launch = pipeline, appsink, launch
	s.log.Info("gst: pipeline playing",
		"index", s.index,
		"mode", s.mode.String(),
		"launch", launch,
	)
	return nil
}

// drainBus returns the first error message posted within wait.
func (s *Source) drainBus(pipeline *gst.Pipeline, wait time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		msg := bus.TimedPop(remaining)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			return s.pipelineError(msg.ParseError())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
					return nil
				}
			}
		}
		if remaining == 0 {
			return nil
		}
	}
}

func (s *Source) pipelineError(gerr *gst.GError) error {
	if gerr == nil {
		return fmt.Errorf("gst: pipeline error")
	}
	category := classifyError(gerr.Error(), gerr.DebugString())
	switch category {
	case ErrCategoryDevice:
		s.errorsDevice.Add(1)
	case ErrCategoryFormat:
		s.errorsFormat.Add(1)
	case ErrCategoryAuth:
		s.errorsAuth.Add(1)
	default:
		s.errorsUnknown.Add(1)
	}
	s.log.Error("gst: pipeline error",
		"error", gerr.Error(),
		"debug", gerr.DebugString(),
		"category", category.String(),
		"index", s.index,
	)
	return fmt.Errorf("gst: pipeline error [%s]: %s", category, gerr.Error())
}

// IsOpen reports whether the source is open. A pipeline waiting to be
// restarted still counts as open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Configure rebuilds the pipeline with caps for mode. Zero fields keep the
// current value.
func (s *Source) Configure(mode capture.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return capture.ErrNotOpen
	}

	next := s.mode
	if mode.Width > 0 {
		next.Width = mode.Width
	}
	if mode.Height > 0 {
		next.Height = mode.Height
	}
	if mode.TargetFPS > 0 {
		next.TargetFPS = mode.TargetFPS
	}
	if mode.Format != capture.FormatUnknown {
		next.Format = mode.Format
	}
	if next == s.mode {
		return nil
	}

	prev := s.mode
	_ = s.stopLocked()
	s.mode = next
	if err := s.startLocked(); err != nil {
		s.log.Warn("gst: reconfigure failed, restoring previous mode",
			"error", err,
			"mode", next.String(),
			"previous", prev.String(),
		)
		s.mode = prev
		if rollbackErr := s.startLocked(); rollbackErr != nil {
			// Leave the restart to ReadFrame.
			s.rc.fail(time.Now())
			return fmt.Errorf("gst: configure %s: %w (rollback failed: %v)", next, err, rollbackErr)
		}
		return fmt.Errorf("gst: configure %s: %w", next, err)
	}
	s.rc.recovered()
	return nil
}

// ReadFrame pulls the next sample, waiting at most about two frame intervals.
// After a pipeline error or end of stream it restarts the pipeline on the
// reconnect schedule and fails fast in between.
func (s *Source) ReadFrame() (capture.Frame, error) {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return capture.Frame{}, capture.ErrNotOpen
	}
	if s.rc.broken {
		if err := s.restartLocked(time.Now()); err != nil {
			s.mu.Unlock()
			return capture.Frame{}, err
		}
	}
	pipeline, appsink, mode := s.pipeline, s.appsink, s.mode
	s.mu.Unlock()

	sample := appsink.TryPullSample(pullTimeout(mode.TargetFPS))
	if sample == nil {
		if msg := pipeline.GetPipelineBus().TimedPop(0); msg != nil && msg.Type() == gst.MessageError {
			err := s.pipelineError(msg.ParseError())
			s.markBroken(err)
			return capture.Frame{}, fmt.Errorf("%w: %w", capture.ErrReadFailure, err)
		}
		if appsink.IsEOS() {
			s.markBroken(fmt.Errorf("end of stream"))
			return capture.Frame{}, fmt.Errorf("gst: end of stream: %w", capture.ErrReadFailure)
		}
		return capture.Frame{}, fmt.Errorf("gst: no sample: %w", capture.ErrReadFailure)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return capture.Frame{}, fmt.Errorf("gst: sample without buffer: %w", capture.ErrReadFailure)
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return capture.Frame{}, fmt.Errorf("gst: empty buffer: %w", capture.ErrReadFailure)
	}
	// GStreamer reuses the buffer.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()
	s.bytesRead.Add(uint64(len(frameData)))

	width, height := mode.Width, mode.Height
	if caps := sample.GetCaps(); caps != nil {
		str := caps.String()
		if w, h, ok := parseCapsSize(str); ok {
			width, height = w, h
		}
		s.mu.Lock()
		s.lastCaps = str
		s.mu.Unlock()
	}

	return capture.Frame{
		Data:   frameData,
		Width:  width,
		Height: height,
		Format: mode.Format,
	}, nil
}

func (s *Source) markBroken(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rc.broken {
		return
	}
	s.rc.fail(time.Now())
	s.log.Warn("gst: pipeline broken, scheduling restart",
		"index", s.index,
		"in", time.Until(s.rc.nextAt).Round(time.Millisecond),
		"error", cause,
	)
}

func (s *Source) restartLocked(now time.Time) error {
	if s.rc.gaveUp {
		return fmt.Errorf("gst: no restart left after %d attempts: %w", s.rc.attempts, capture.ErrReadFailure)
	}
	if !s.rc.due(now) {
		return fmt.Errorf("gst: waiting to restart pipeline: %w", capture.ErrReadFailure)
	}
	_ = s.stopLocked()
	if err := s.startLocked(); err != nil {
		if !s.rc.fail(now) {
			s.log.Error("gst: giving up on pipeline restarts", "attempts", s.rc.attempts, "error", err)
		} else {
			s.log.Warn("gst: pipeline restart failed",
				"attempt", s.rc.attempts,
				"next_in", s.rc.nextAt.Sub(now),
				"error", err,
			)
		}
		return fmt.Errorf("%w: %w", capture.ErrReadFailure, err)
	}
	s.rc.recovered()
	s.log.Info("gst: pipeline restarted", "index", s.index, "reconnects", s.rc.total)
	return nil
}

func pullTimeout(fps float64) time.Duration {
	if fps <= 0 {
		return minPullTimeout
	}
	return max(time.Duration(2*float64(time.Second)/fps), minPullTimeout)
}

// Release stops the pipeline. Idempotent.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.stopLocked()
	s.log.Info("gst: pipeline released",
		"index", s.index,
		"bytes_read", s.bytesRead.Load(),
	)
	return err
}

func (s *Source) stopLocked() error {
	if s.pipeline == nil {
		return nil
	}
	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline, s.appsink = nil, nil
	if err != nil {
		return fmt.Errorf("gst: failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// Describe reports the pipeline and the last negotiated caps.
func (s *Source) Describe() (capture.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return capture.DeviceInfo{}, capture.ErrNotOpen
	}
	label := string(s.cfg.Kind)
	if label == "" {
		label = string(KindTest)
	}
	return capture.DeviceInfo{
		Label:   fmt.Sprintf("%s:%d", label, s.index),
		Backend: "gstreamer",
		Modes:   []capture.Mode{s.mode},
		Properties: map[string]string{
			"launch":         s.launch,
			"caps":           s.lastCaps,
			"bytes_read":     fmt.Sprint(s.bytesRead.Load()),
			"errors_device":  fmt.Sprint(s.errorsDevice.Load()),
			"errors_format":  fmt.Sprint(s.errorsFormat.Load()),
			"errors_auth":    fmt.Sprint(s.errorsAuth.Load()),
			"errors_unknown": fmt.Sprint(s.errorsUnknown.Load()),
			"reconnects":     fmt.Sprint(s.rc.total),
		},
	}, nil
}
