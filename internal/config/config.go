// Package config loads the camera-framework YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/capture"
)

// Device kinds.
const (
	KindSynthetic = "synthetic"
	KindVideoTest = "videotest" // GStreamer videotestsrc
	KindV4L2      = "v4l2"      // GStreamer v4l2src
	KindRTSP      = "rtsp"      // GStreamer rtspsrc
	KindWebcam    = "webcam"    // pion/mediadevices
	KindReplay    = "replay"    // msgpack recording
)

// Output formats.
const (
	OutputPNG     = "png"
	OutputJPEG    = "jpeg"
	OutputMsgpack = "msgpack"
)

// Config represents the complete camera-framework configuration
type Config struct {
	InstanceID  string            `yaml:"instance_id"`
	Device      DeviceConfig      `yaml:"device"`
	Queue       QueueConfig       `yaml:"queue"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Output      OutputConfig      `yaml:"output"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
}

// DeviceConfig selects and configures the frame source
type DeviceConfig struct {
	Kind   string  `yaml:"kind"`   // synthetic, videotest, v4l2, rtsp, webcam, replay
	Index  int     `yaml:"index"`  // device index for the source
	URL    string  `yaml:"url"`    // rtsp URL or replay file
	Width  int     `yaml:"width"`  // 0 keeps the device default
	Height int     `yaml:"height"` // 0 keeps the device default
	FPS    float64 `yaml:"fps"`    // 0 keeps the device default
	Format string  `yaml:"format"` // rgb24, bgr24, rgba, gray8, i420
	Loop   bool    `yaml:"loop"`   // replay: rewind at end of file
}

// QueueConfig sizes the frame queue
type QueueConfig struct {
	Capacity int `yaml:"capacity"` // default: 10
}

// AcquisitionConfig tunes the capture loop
type AcquisitionConfig struct {
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"` // 0 retries forever
	JoinWarnS              int `yaml:"join_warn_s"`              // default: 3
	WarmupS                int `yaml:"warmup_s"`                 // 0 skips the warm-up report
	StatsIntervalS         int `yaml:"stats_interval_s"`         // default: 10
}

// OutputConfig controls what the stream command persists
type OutputConfig struct {
	Dir         string `yaml:"dir"`          // default: saved_frames
	Format      string `yaml:"format"`       // png, jpeg, msgpack
	JPEGQuality int    `yaml:"jpeg_quality"` // default: 90
	MaxWidth    int    `yaml:"max_width"`    // 0 keeps full size
	SaveEvery   int    `yaml:"save_every"`   // 0 saves nothing while streaming
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text, json
	Backend    string `yaml:"backend"`     // slog, zap
	File       string `yaml:"file"`        // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotation size (default: 100)
	MaxBackups int    `yaml:"max_backups"`
}

// TelemetryConfig enables MQTT stats publishing when Broker is set
type TelemetryConfig struct {
	Broker    string `yaml:"broker"`     // host:port
	Topic     string `yaml:"topic"`      // default: camera/stats/{instance_id}
	QoS       byte   `yaml:"qos"`        // 0, 1 or 2
	IntervalS int    `yaml:"interval_s"` // default: 5
}

// IndicatorConfig drives a streaming tally light on a GPIO pin
type IndicatorConfig struct {
	Pin       int  `yaml:"pin"`        // BCM pin, 0 disables
	ActiveLow bool `yaml:"active_low"` // drive low when streaming
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "camera-framework"
	}
	if cfg.Device.Kind == "" {
		cfg.Device.Kind = KindSynthetic
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 10
	}
	if cfg.Acquisition.JoinWarnS == 0 {
		cfg.Acquisition.JoinWarnS = 3
	}
	if cfg.Acquisition.StatsIntervalS == 0 {
		cfg.Acquisition.StatsIntervalS = 10
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "saved_frames"
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = OutputPNG
	}
	if cfg.Output.JPEGQuality == 0 {
		cfg.Output.JPEGQuality = 90
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Backend == "" {
		cfg.Log.Backend = "slog"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Telemetry.Topic == "" {
		cfg.Telemetry.Topic = fmt.Sprintf("camera/stats/%s", cfg.InstanceID)
	}
	if cfg.Telemetry.IntervalS == 0 {
		cfg.Telemetry.IntervalS = 5
	}
}

// Settings maps the device and queue sections to controller settings.
func (c *Config) Settings() cameraframework.Settings {
	return cameraframework.Settings{
		DeviceIndex:   c.Device.Index,
		Width:         c.Device.Width,
		Height:        c.Device.Height,
		TargetFPS:     c.Device.FPS,
		QueueCapacity: c.Queue.Capacity,
	}
}

// PixelFormat returns the configured device format, rgb24 when unset.
func (c *Config) PixelFormat() capture.PixelFormat {
	f, _ := capture.ParsePixelFormat(c.Device.Format)
	return f
}

// JoinWarnAfter returns the acquisition join warning delay.
func (c *Config) JoinWarnAfter() time.Duration {
	return time.Duration(c.Acquisition.JoinWarnS) * time.Second
}

// StatsInterval returns the period of the stats report.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Acquisition.StatsIntervalS) * time.Second
}

// Warmup returns the warm-up window, zero when disabled.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Acquisition.WarmupS) * time.Second
}

// TelemetryInterval returns the MQTT publish period.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalS) * time.Second
}

// SourceChanged reports whether moving from old to c needs a new source.
// Settings changes alone are applied through the controller.
func (c *Config) SourceChanged(old *Config) bool {
	a, b := c.Device, old.Device
	return a.Kind != b.Kind || a.URL != b.URL || a.Format != b.Format || a.Loop != b.Loop
}
