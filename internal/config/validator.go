package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/queue"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if err := validateDevice(cfg.Device); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	if cfg.Queue.Capacity < 1 || cfg.Queue.Capacity > queue.MaxCapacity {
		return fmt.Errorf("queue.capacity must be 1-%d, got %d", queue.MaxCapacity, cfg.Queue.Capacity)
	}

	a := cfg.Acquisition
	if a.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("acquisition.max_consecutive_failures must be >= 0")
	}
	if a.JoinWarnS < 0 || a.WarmupS < 0 || a.StatsIntervalS < 0 {
		return fmt.Errorf("acquisition durations must be >= 0")
	}

	switch cfg.Output.Format {
	case OutputPNG, OutputJPEG, OutputMsgpack:
	case "jpg":
		cfg.Output.Format = OutputJPEG
	default:
		return fmt.Errorf("output.format: unknown format %q (must be png, jpeg or msgpack)", cfg.Output.Format)
	}
	if cfg.Output.JPEGQuality < 1 || cfg.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be 1-100, got %d", cfg.Output.JPEGQuality)
	}
	if cfg.Output.SaveEvery < 0 || cfg.Output.MaxWidth < 0 {
		return fmt.Errorf("output.save_every and output.max_width must be >= 0")
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Log.Backend != "slog" && cfg.Log.Backend != "zap" {
		return fmt.Errorf("log.backend must be slog or zap, got %q", cfg.Log.Backend)
	}

	if cfg.Telemetry.QoS > 2 {
		return fmt.Errorf("telemetry.qos must be 0, 1 or 2")
	}
	if cfg.Telemetry.IntervalS < 1 {
		return fmt.Errorf("telemetry.interval_s must be >= 1")
	}

	if cfg.Indicator.Pin < 0 || cfg.Indicator.Pin > 27 {
		return fmt.Errorf("indicator.pin must be a BCM pin 0-27, got %d", cfg.Indicator.Pin)
	}
	return nil
}

func validateDevice(d DeviceConfig) error {
	switch d.Kind {
	case KindSynthetic, KindVideoTest, KindV4L2, KindWebcam:
	case KindRTSP:
		if !strings.HasPrefix(d.URL, "rtsp://") && !strings.HasPrefix(d.URL, "rtsps://") {
			return fmt.Errorf("rtsp source needs an rtsp:// url, got %q", d.URL)
		}
	case KindReplay:
		if d.URL == "" {
			return fmt.Errorf("replay source needs url (recording path)")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}

	if d.Index < 0 {
		return fmt.Errorf("index must be >= 0, got %d", d.Index)
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("invalid resolution %dx%d", d.Width, d.Height)
	}
	if d.FPS < 0 {
		return fmt.Errorf("fps must be >= 0, got %v", d.FPS)
	}
	if _, err := capture.ParsePixelFormat(d.Format); err != nil {
		return err
	}
	return nil
}
