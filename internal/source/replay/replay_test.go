package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/record"
)

func writeRecording(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.msgpack")
	w, err := record.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		f := capture.Frame{Data: []byte{byte(i)}, Width: 1, Height: 1, Format: capture.FormatGray8, Seq: uint64(i + 1)}
		if _, err := w.Save(f, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSource_PlaysOnceThenRunsDry(t *testing.T) {
	s, err := New(Options{Path: writeRecording(t, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	for i := 0; i < 2; i++ {
		f, err := s.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() #%d = %v", i, err)
		}
		if f.Data[0] != byte(i) || f.Seq != 0 || !f.Timestamp.IsZero() {
			t.Errorf("frame #%d = %+v, want data %d and cleared stamps", i, f, i)
		}
	}
	if _, err := s.ReadFrame(); !errors.Is(err, capture.ErrReadFailure) {
		t.Errorf("ReadFrame() at end = %v, want ErrReadFailure", err)
	}
}

func TestSource_Loop(t *testing.T) {
	s, err := New(Options{Path: writeRecording(t, 2), Loop: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	var got []byte
	for i := 0; i < 5; i++ {
		f, err := s.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() #%d = %v", i, err)
		}
		got = append(got, f.Data[0])
	}
	if string(got) != string([]byte{0, 1, 0, 1, 0}) {
		t.Errorf("played %v, want 0 1 0 1 0", got)
	}
}

func TestSource_OpenErrors(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without path: want error")
	}
	s, _ := New(Options{Path: filepath.Join(t.TempDir(), "missing.msgpack")})
	if err := s.Open(context.Background(), 0); err == nil {
		t.Error("Open() of missing file: want error")
	}
	if s.IsOpen() {
		t.Error("IsOpen() after failed Open")
	}

	ok, _ := New(Options{Path: writeRecording(t, 1)})
	if err := ok.Open(context.Background(), 1); err == nil {
		t.Error("Open(1): want error")
	}
}
