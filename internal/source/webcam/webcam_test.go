package webcam

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/mediadevices/pkg/prop"

	"github.com/likelystudying/camera-framework/internal/capture"
)

func media(w, h int, fps float32) prop.Media {
	return prop.Media{Video: prop.Video{Width: w, Height: h, FrameRate: fps}}
}

func TestSelectProp(t *testing.T) {
	props := []prop.Media{
		media(640, 480, 30),
		media(1280, 720, 10),
		media(1280, 720, 30),
		media(320, 240, 60),
	}
	tests := []struct {
		name string
		mode capture.Mode
		want prop.Media
	}{
		{"default prefers largest", capture.Mode{}, media(1280, 720, 10)},
		{"exact size", capture.Mode{Width: 640, Height: 480}, media(640, 480, 30)},
		{"size and rate", capture.Mode{Width: 1280, Height: 720, TargetFPS: 25}, media(1280, 720, 30)},
		{"rate only", capture.Mode{TargetFPS: 60}, media(320, 240, 60)},
		{"closest size", capture.Mode{Width: 300, Height: 200}, media(320, 240, 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectProp(props, tt.mode); got != tt.want {
				t.Errorf("selectProp() = %+v, want %+v", got.Video, tt.want.Video)
			}
		})
	}
}

func TestSource_Closed(t *testing.T) {
	s := New(nil)
	if s.IsOpen() {
		t.Fatal("IsOpen() on new source")
	}
	if _, err := s.ReadFrame(); !errors.Is(err, capture.ErrNotOpen) {
		t.Errorf("ReadFrame() = %v, want ErrNotOpen", err)
	}
	if err := s.Configure(capture.Mode{}); !errors.Is(err, capture.ErrNotOpen) {
		t.Errorf("Configure() = %v, want ErrNotOpen", err)
	}
	if err := s.Release(); err != nil {
		t.Errorf("Release() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Open(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() with cancelled ctx = %v", err)
	}
}
