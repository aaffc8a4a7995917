// Package sink writes frames to disk. Sinks are used by callers of the
// controller; the acquisition core never touches them.
package sink

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"github.com/likelystudying/camera-framework/internal/capture"
)

// DefaultDir is where frames land when no directory is configured.
const DefaultDir = "saved_frames"

// ImageOptions configures an ImageSink.
type ImageOptions struct {
	Dir         string // default DefaultDir
	Format      string // "png" (default) or "jpeg"
	JPEGQuality int    // 1-100, default 90
	// MaxWidth downscales wider frames before encoding. 0 keeps the size.
	MaxWidth int
}

// ImageSink encodes frames as PNG or JPEG files.
//
// Thread-safe: Save may be called from several consumers concurrently.
type ImageSink struct {
	dir      string
	format   string
	quality  int
	maxWidth int

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewImageSink validates opts and creates the output directory.
func NewImageSink(opts ImageOptions) (*ImageSink, error) {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	switch opts.Format {
	case "":
		opts.Format = "png"
	case "png", "jpeg":
	case "jpg":
		opts.Format = "jpeg"
	default:
		return nil, fmt.Errorf("sink: unsupported image format %q (must be png or jpeg)", opts.Format)
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 90
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("sink: invalid JPEG quality %d (must be 1-100)", opts.JPEGQuality)
	}
	if opts.MaxWidth < 0 {
		return nil, fmt.Errorf("sink: invalid max width %d", opts.MaxWidth)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output directory: %w", err)
	}

	return &ImageSink{
		dir:      opts.Dir,
		format:   opts.Format,
		quality:  opts.JPEGQuality,
		maxWidth: opts.MaxWidth,
	}, nil
}

// Save encodes frame and returns the written path.
//
// hint is a file name inside the sink directory; its extension is replaced by
// the sink's format. Empty hint yields frame_<unix>.<ext>, with the sequence
// number appended when the frame has one so bursts within one second do not
// overwrite each other.
func (s *ImageSink) Save(frame capture.Frame, hint string) (string, error) {
	img, err := ToImage(frame)
	if err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("sink: %w", err)
	}
	if s.maxWidth > 0 && frame.Width > s.maxWidth {
		img = imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
	}

	path := filepath.Join(s.dir, s.fileName(frame, hint))
	if err := imaging.Save(img, path, imaging.JPEGQuality(s.quality)); err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("sink: save %s: %w", path, err)
	}
	s.saved.Add(1)
	return path, nil
}

func (s *ImageSink) fileName(frame capture.Frame, hint string) string {
	ext := "." + s.format
	if s.format == "jpeg" {
		ext = ".jpg"
	}
	if hint != "" {
		base := filepath.Base(hint)
		return strings.TrimSuffix(base, filepath.Ext(base)) + ext
	}
	name := fmt.Sprintf("frame_%d", frame.Timestamp.Unix())
	if frame.Seq > 0 {
		name += fmt.Sprintf("_%06d", frame.Seq)
	}
	return name + ext
}

// Stats returns how many frames were saved and how many failed.
func (s *ImageSink) Stats() (saved, failed uint64) {
	return s.saved.Load(), s.failed.Load()
}

// ToImage wraps a raw frame in an image.Image without color management.
func ToImage(frame capture.Frame) (image.Image, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	rect := image.Rect(0, 0, w, h)

	if frame.Format == capture.FormatI420 {
		lumaSize, chromaSize := w*h, ((w+1)/2)*((h+1)/2)
		if len(frame.Data) != lumaSize+2*chromaSize {
			return nil, fmt.Errorf("invalid i420 data size: got %d, expected %d",
				len(frame.Data), lumaSize+2*chromaSize)
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		copy(img.Y, frame.Data[:lumaSize])
		copy(img.Cb, frame.Data[lumaSize:lumaSize+chromaSize])
		copy(img.Cr, frame.Data[lumaSize+chromaSize:])
		return img, nil
	}

	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", frame.Format)
	}
	if expected := w * h * bpp; len(frame.Data) != expected {
		return nil, fmt.Errorf("invalid %s data size: got %d, expected %d",
			frame.Format, len(frame.Data), expected)
	}

	switch frame.Format {
	case capture.FormatGray8:
		img := image.NewGray(rect)
		copy(img.Pix, frame.Data)
		return img, nil
	case capture.FormatRGBA:
		img := image.NewNRGBA(rect)
		copy(img.Pix, frame.Data)
		return img, nil
	}

	// Packed 24-bit: expand to NRGBA with opaque alpha.
	img := image.NewNRGBA(rect)
	r, b := 0, 2
	if frame.Format == capture.FormatBGR24 {
		r, b = 2, 0
	}
	for i := 0; i < w*h; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+r]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+b]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
