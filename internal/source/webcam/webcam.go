// Package webcam reads frames from local cameras through pion/mediadevices.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/likelystudying/camera-framework/internal/capture"
)

var initOnce sync.Once

// Source implements capture.Source over a mediadevices video driver. Frames
// are delivered as RGBA.
type Source struct {
	log capture.Logger

	mu     sync.Mutex
	drv    driver.Driver
	reader video.Reader
	index  int
	props  []prop.Media
	media  prop.Media
}

// New returns a closed Source.
func New(logger capture.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{log: logger}
}

// videoDrivers lists video recorders ordered by label so indices are stable.
func videoDrivers() []driver.Driver {
	initOnce.Do(mediadevicescamera.Initialize)
	drivers := driver.GetManager().Query(driver.FilterVideoRecorder())
	sort.Slice(drivers, func(i, j int) bool {
		return drivers[i].Info().Label < drivers[j].Info().Label
	})
	return drivers
}

// Open opens the index-th camera and starts recording in its default mode.
func (s *Source) Open(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv != nil {
		return fmt.Errorf("webcam: device %d already open", s.index)
	}

	drivers := videoDrivers()
	if index < 0 || index >= len(drivers) {
		return fmt.Errorf("webcam: no camera at index %d (%d found)", index, len(drivers))
	}
	d := drivers[index]
	if d.Status() == driver.StateRunning {
		return fmt.Errorf("webcam: %s is in use", label(d))
	}
	if d.Status() == driver.StateClosed {
		if err := d.Open(); err != nil {
			return fmt.Errorf("webcam: open %s: %w", label(d), err)
		}
	}

	props := d.Properties()
	if len(props) == 0 {
		_ = d.Close()
		return fmt.Errorf("webcam: %s reports no video modes", label(d))
	}
	s.drv, s.index, s.props = d, index, props

	if err := s.recordLocked(selectProp(props, capture.Mode{})); err != nil {
		_ = d.Close()
		s.drv = nil
		return err
	}
	return nil
}

func (s *Source) recordLocked(media prop.Media) error {
	recorder, ok := s.drv.(driver.VideoRecorder)
	if !ok {
		return fmt.Errorf("webcam: %s: %w", label(s.drv), capture.ErrNotSupported)
	}
	reader, err := recorder.VideoRecord(media)
	if err != nil {
		return fmt.Errorf("webcam: record %s at %dx%d: %w",
			label(s.drv), media.Video.Width, media.Video.Height, err)
	}
	s.reader, s.media = reader, media
	s.log.Info("webcam: recording",
		"label", label(s.drv),
		"resolution", fmt.Sprintf("%dx%d", media.Video.Width, media.Video.Height),
		"fps", media.Video.FrameRate,
		"frame_format", string(media.Video.FrameFormat),
	)
	return nil
}

// IsOpen reports whether a driver is held.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv != nil
}

// Configure switches to the driver mode closest to mode. The driver is
// closed and reopened because mediadevices drivers record in one mode per
// open.
func (s *Source) Configure(mode capture.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return capture.ErrNotOpen
	}
	if mode.Format != capture.FormatUnknown && mode.Format != capture.FormatRGBA {
		return fmt.Errorf("webcam: format %s: %w", mode.Format, capture.ErrNotSupported)
	}

	media := selectProp(s.props, mode)
	if media == s.media {
		return nil
	}
	if err := s.drv.Close(); err != nil {
		return fmt.Errorf("webcam: close for reconfigure: %w", err)
	}
	if err := s.drv.Open(); err != nil {
		s.drv = nil
		return fmt.Errorf("webcam: reopen for reconfigure: %w", err)
	}
	return s.recordLocked(media)
}

// ReadFrame blocks until the driver delivers the next image.
func (s *Source) ReadFrame() (capture.Frame, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return capture.Frame{}, capture.ErrNotOpen
	}

	img, release, err := reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return capture.Frame{}, fmt.Errorf("webcam: %w: %w", capture.ErrReadFailure, err)
	}

	// Clone copies out of the driver buffer before release.
	rgba := imaging.Clone(img)
	b := rgba.Bounds()
	return capture.Frame{
		Data:   rgba.Pix,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: capture.FormatRGBA,
	}, nil
}

// Release closes the driver. Idempotent.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return nil
	}
	err := s.drv.Close()
	s.log.Info("webcam: released", "label", label(s.drv))
	s.drv, s.reader = nil, nil
	if err != nil {
		return fmt.Errorf("webcam: close: %w", err)
	}
	return nil
}

// Describe lists the driver's modes.
func (s *Source) Describe() (capture.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return capture.DeviceInfo{}, capture.ErrNotOpen
	}
	modes := make([]capture.Mode, 0, len(s.props))
	for _, p := range s.props {
		modes = append(modes, capture.Mode{
			Width:     p.Video.Width,
			Height:    p.Video.Height,
			TargetFPS: float64(p.Video.FrameRate),
			Format:    capture.FormatRGBA,
		})
	}
	info := s.drv.Info()
	return capture.DeviceInfo{
		Label:   label(s.drv),
		Backend: "mediadevices",
		Modes:   modes,
		Properties: map[string]string{
			"name":         info.Name,
			"device_type":  string(info.DeviceType),
			"frame_format": string(s.media.Video.FrameFormat),
			"resolution":   fmt.Sprintf("%dx%d", s.media.Video.Width, s.media.Video.Height),
		},
	}, nil
}

// label strips the alternate names mediadevices joins into a driver label.
func label(d driver.Driver) string {
	return strings.Split(d.Info().Label, mediadevicescamera.LabelSeparator)[0]
}

// selectProp picks the driver mode closest to mode: exact size when asked,
// then the rate nearest TargetFPS, then the largest area.
func selectProp(props []prop.Media, mode capture.Mode) prop.Media {
	best, bestScore := props[0], math.Inf(1)
	for _, p := range props {
		v := p.Video
		score := 0.0
		if mode.Width > 0 {
			score += 1000 * math.Abs(float64(v.Width-mode.Width))
		}
		if mode.Height > 0 {
			score += 1000 * math.Abs(float64(v.Height-mode.Height))
		}
		if mode.TargetFPS > 0 {
			score += 10 * math.Abs(float64(v.FrameRate)-mode.TargetFPS)
		}
		// Prefer larger frames among equals.
		score -= float64(v.Width*v.Height) / 1e9
		if score < bestScore {
			best, bestScore = p, score
		}
	}
	return best
}
