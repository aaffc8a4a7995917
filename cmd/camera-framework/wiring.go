package main

import (
	"fmt"
	"path/filepath"
	"time"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/config"
	"github.com/likelystudying/camera-framework/internal/record"
	"github.com/likelystudying/camera-framework/internal/sink"
	"github.com/likelystudying/camera-framework/internal/source/gstsrc"
	"github.com/likelystudying/camera-framework/internal/source/replay"
	"github.com/likelystudying/camera-framework/internal/source/synthetic"
	"github.com/likelystudying/camera-framework/internal/source/webcam"
)

// newSource builds the backend named by cfg.Device.Kind.
func newSource(cfg *config.Config, logger capture.Logger) (cameraframework.Source, error) {
	d := cfg.Device
	switch d.Kind {
	case config.KindSynthetic:
		return synthetic.New(synthetic.Options{
			Width:  d.Width,
			Height: d.Height,
			Format: cfg.PixelFormat(),
		}), nil
	case config.KindVideoTest:
		return gstsrc.New(gstsrc.Config{Kind: gstsrc.KindTest}, logger)
	case config.KindV4L2:
		return gstsrc.New(gstsrc.Config{Kind: gstsrc.KindV4L2}, logger)
	case config.KindRTSP:
		return gstsrc.New(gstsrc.Config{Kind: gstsrc.KindRTSP, URL: d.URL}, logger)
	case config.KindWebcam:
		return webcam.New(logger), nil
	case config.KindReplay:
		return replay.New(replay.Options{Path: d.URL, Loop: d.Loop, Realtime: true})
	default:
		return nil, fmt.Errorf("camera-framework: unknown device kind %q", d.Kind)
	}
}

// output is a Sink that may hold a file open.
type output interface {
	cameraframework.Sink
	Close() error
}

type nopCloser struct{ cameraframework.Sink }

func (nopCloser) Close() error { return nil }

// newOutput builds the frame sink named by cfg.Output.Format.
func newOutput(cfg *config.Config) (output, error) {
	o := cfg.Output
	if o.Format == config.OutputMsgpack {
		name := fmt.Sprintf("%s_%d.msgpack", cfg.InstanceID, time.Now().Unix())
		return record.Create(filepath.Join(o.Dir, name))
	}
	s, err := sink.NewImageSink(sink.ImageOptions{
		Dir:         o.Dir,
		Format:      o.Format,
		JPEGQuality: o.JPEGQuality,
		MaxWidth:    o.MaxWidth,
	})
	if err != nil {
		return nil, err
	}
	return nopCloser{s}, nil
}

// newController wires a controller for cfg around src.
func newController(cfg *config.Config, src cameraframework.Source, logger capture.Logger) *cameraframework.Controller {
	return cameraframework.NewController(src, cameraframework.Options{
		Logger:                 logger,
		Settings:               cfg.Settings(),
		JoinWarnAfter:          cfg.JoinWarnAfter(),
		MaxConsecutiveFailures: cfg.Acquisition.MaxConsecutiveFailures,
	})
}
