package gstsrc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/likelystudying/camera-framework/internal/capture"
)

// Kind selects the upstream element of the pipeline.
type Kind string

const (
	// KindTest uses videotestsrc; index selects the pattern.
	KindTest Kind = "test"
	// KindV4L2 captures from /dev/video<index>.
	KindV4L2 Kind = "v4l2"
	// KindRTSP pulls an RTSP URL; index must be 0.
	KindRTSP Kind = "rtsp"
)

// Config describes where frames come from.
type Config struct {
	Kind Kind
	// URL is the RTSP location (KindRTSP only).
	URL string
	// DeviceFormat renders the V4L2 device path from the index (default "/dev/video%d").
	DeviceFormat string
	// Reconnect bounds restarts after a pipeline error or end of stream.
	// A negative MaxRetries retries forever.
	Reconnect ReconnectConfig
}

const (
	sinkName = "sink"
	capsName = "caps"
)

// buildLaunch renders a gst-launch description ending in a named capsfilter
// and appsink:
//
//	<source> ! videoconvert ! videoscale ! videorate ! capsfilter ! appsink
func buildLaunch(cfg Config, index int, mode capture.Mode) (string, error) {
	var src string
	switch cfg.Kind {
	case KindTest, "":
		src = fmt.Sprintf("videotestsrc is-live=true pattern=%d", index)
	case KindV4L2:
		format := cfg.DeviceFormat
		if format == "" {
			format = "/dev/video%d"
		}
		src = fmt.Sprintf("v4l2src device=%s", fmt.Sprintf(format, index))
	case KindRTSP:
		if cfg.URL == "" {
			return "", fmt.Errorf("RTSP URL is required")
		}
		if index != 0 {
			return "", fmt.Errorf("RTSP source has no device at index %d", index)
		}
		// Low rates benefit from minimal jitter buffering.
		latency := 200
		if mode.TargetFPS > 0 && mode.TargetFPS <= 2.0 {
			latency = 50
		}
		src = fmt.Sprintf("rtspsrc location=%q protocols=tcp latency=%d ! decodebin", cfg.URL, latency)
	default:
		return "", fmt.Errorf("unknown source kind %q", cfg.Kind)
	}

	caps, err := buildCaps(mode)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate drop-only=true ! capsfilter name=%s caps=%q ! appsink name=%s sync=false max-buffers=1 drop=true",
		src, capsName, caps, sinkName,
	), nil
}

// buildCaps renders raw video caps for mode. Zero fields are left for the
// pipeline to negotiate.
//
// Fractional rates are expressed as 1/N (0.5 FPS → framerate=1/2).
func buildCaps(mode capture.Mode) (string, error) {
	format, err := gstFormat(mode.Format)
	if err != nil {
		return "", err
	}
	parts := []string{"video/x-raw", "format=" + format}
	if mode.Width > 0 {
		parts = append(parts, fmt.Sprintf("width=%d", mode.Width))
	}
	if mode.Height > 0 {
		parts = append(parts, fmt.Sprintf("height=%d", mode.Height))
	}
	if mode.TargetFPS > 0 {
		num, den := int(mode.TargetFPS), 1
		if mode.TargetFPS < 1.0 {
			num, den = 1, int(1.0/mode.TargetFPS)
		}
		parts = append(parts, fmt.Sprintf("framerate=%d/%d", num, den))
	}
	return strings.Join(parts, ","), nil
}

func gstFormat(f capture.PixelFormat) (string, error) {
	switch f {
	case capture.FormatRGB24, capture.FormatUnknown:
		return "RGB", nil
	case capture.FormatBGR24:
		return "BGR", nil
	case capture.FormatRGBA:
		return "RGBA", nil
	case capture.FormatGray8:
		return "GRAY8", nil
	case capture.FormatI420:
		return "I420", nil
	default:
		return "", fmt.Errorf("format %s: %w", f, capture.ErrNotSupported)
	}
}

var capsFieldRe = regexp.MustCompile(`(width|height)=\(int\)(\d+)`)

// parseCapsSize extracts width and height from a negotiated caps string such
// as "video/x-raw, format=(string)RGB, width=(int)640, height=(int)480".
func parseCapsSize(caps string) (width, height int, ok bool) {
	for _, m := range capsFieldRe.FindAllStringSubmatch(caps, -1) {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}
		if m[1] == "width" {
			width = v
		} else {
			height = v
		}
	}
	return width, height, width > 0 && height > 0
}
