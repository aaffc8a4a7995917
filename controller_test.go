package cameraframework

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/likelystudying/camera-framework/internal/source/synthetic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, src *synthetic.Source, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	c := NewController(src, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func smallSource(opts synthetic.Options) *synthetic.Source {
	if opts.Width == 0 {
		opts.Width, opts.Height = 16, 8
	}
	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	return synthetic.New(opts)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestController_OpenFailure(t *testing.T) {
	busy := errors.New("device busy")
	src := smallSource(synthetic.Options{FailOpen: busy})
	c := newTestController(t, src, Options{})

	err := c.Open(context.Background(), 0)

	var openErr *DeviceOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Open() = %v, want *DeviceOpenError", err)
	}
	if openErr.Index != 0 || !errors.Is(err, busy) {
		t.Errorf("DeviceOpenError = %+v, want index 0 wrapping cause", openErr)
	}
	if got := c.State(); got != Closed {
		t.Errorf("State() = %v, want closed", got)
	}
	if got := c.Stats().Sessions; got != 0 {
		t.Errorf("Sessions = %d, want 0", got)
	}
}

func TestController_Lifecycle(t *testing.T) {
	src := smallSource(synthetic.Options{})
	c := newTestController(t, src, Options{})
	ctx := context.Background()

	if err := c.Open(ctx, 0); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if got := c.State(); got != Opened {
		t.Fatalf("State() = %v, want opened", got)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatalf("StartStreaming() = %v", err)
	}
	if got := c.State(); got != Streaming {
		t.Fatalf("State() = %v, want streaming", got)
	}

	waitFor(t, "frames", func() bool { return c.Stats().Frames >= 5 })

	for i := 0; i < 2; i++ {
		if err := c.StopStreaming(); err != nil {
			t.Fatalf("StopStreaming() #%d = %v", i, err)
		}
		if got := c.State(); got != Opened {
			t.Fatalf("State() after stop #%d = %v, want opened", i, got)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if got := c.State(); got != Closed {
		t.Errorf("State() = %v, want closed", got)
	}
	if src.Opens() != 1 || src.Releases() != 1 {
		t.Errorf("opens/releases = %d/%d, want 1/1", src.Opens(), src.Releases())
	}
}

func TestController_StartWhileClosed(t *testing.T) {
	c := newTestController(t, smallSource(synthetic.Options{}), Options{})

	err := c.StartStreaming(context.Background())
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("StartStreaming() = %v, want ErrPrecondition", err)
	}
	var pe *PreconditionError
	if !errors.As(err, &pe) || pe.Op != "StartStreaming" || pe.State != Closed {
		t.Errorf("PreconditionError = %+v", pe)
	}
	if err := c.StopStreaming(); err != nil {
		t.Errorf("StopStreaming() while closed = %v, want nil", err)
	}
}

func TestController_StartTwiceKeepsOneSession(t *testing.T) {
	c := newTestController(t, smallSource(synthetic.Options{}), Options{})
	ctx := context.Background()
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := c.StartStreaming(ctx); err != nil {
			t.Fatalf("StartStreaming() #%d = %v", i, err)
		}
	}
	first := c.Stats()
	if first.Sessions != 1 {
		t.Fatalf("Sessions = %d, want 1", first.Sessions)
	}

	waitFor(t, "frames", func() bool { return c.Stats().Frames >= 3 })
	if got := c.Stats().SessionID; got != first.SessionID {
		t.Errorf("SessionID changed from %s to %s", first.SessionID, got)
	}
}

func TestController_SettingsGating(t *testing.T) {
	src := smallSource(synthetic.Options{})
	c := newTestController(t, src, Options{Settings: Settings{QueueCapacity: 4}})
	ctx := context.Background()

	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	before := c.AppliedSettings()
	next := Settings{Width: 8, Height: 2, QueueCapacity: 2}

	if err := c.ApplySettings(next); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("ApplySettings() while streaming = %v, want ErrPrecondition", err)
	}
	if err := c.StageSettings(next); err != nil {
		t.Fatalf("StageSettings() while streaming = %v", err)
	}
	if err := c.Apply(); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Apply() while streaming = %v, want ErrPrecondition", err)
	}
	if diff := cmp.Diff(before, c.AppliedSettings()); diff != "" {
		t.Fatalf("applied settings changed while streaming (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(next, c.PendingSettings()); diff != "" {
		t.Errorf("pending settings (-want +got):\n%s", diff)
	}

	if err := c.StopStreaming(); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(); err != nil {
		t.Fatalf("Apply() while opened = %v", err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "frames at new mode", func() bool { return c.Queue().Len() > 0 })
	if got := c.Queue().Cap(); got != 2 {
		t.Errorf("queue Cap() = %d, want 2", got)
	}
	s, _ := c.Queue().Pop()
	if s.Frame.Width != 8 || s.Frame.Height != 2 {
		t.Errorf("frame is %dx%d, want 8x2", s.Frame.Width, s.Frame.Height)
	}
}

func TestController_ApplyWhileClosed(t *testing.T) {
	c := newTestController(t, smallSource(synthetic.Options{}), Options{})
	want := Settings{Width: 4, Height: 4, TargetFPS: 100, QueueCapacity: 3}

	if err := c.ApplySettings(want); err != nil {
		t.Fatalf("ApplySettings() while closed = %v", err)
	}
	if diff := cmp.Diff(want, c.AppliedSettings()); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
	if err := c.ApplySettings(Settings{QueueCapacity: -1}); err == nil {
		t.Error("ApplySettings() with negative capacity: want error")
	}
}

func TestController_DeviceIndexChangeReopens(t *testing.T) {
	src := smallSource(synthetic.Options{Devices: 2})
	c := newTestController(t, src, Options{})
	ctx := context.Background()

	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplySettings(Settings{DeviceIndex: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	if src.Opens() != 2 || src.Releases() != 1 {
		t.Errorf("opens/releases = %d/%d, want 2/1", src.Opens(), src.Releases())
	}

	info := waitDescribe(t, c)
	if info.Label != "synthetic test pattern 1" {
		t.Errorf("Label = %q, want device 1", info.Label)
	}
}

// waitDescribe stops streaming and describes the device.
func waitDescribe(t *testing.T, c *Controller) DeviceInfo {
	t.Helper()
	if err := c.StopStreaming(); err != nil {
		t.Fatal(err)
	}
	info, err := c.Describe()
	if err != nil {
		t.Fatalf("Describe() = %v", err)
	}
	return info
}

func TestController_ReopenWhileStreaming(t *testing.T) {
	src := smallSource(synthetic.Options{Devices: 2})
	c := newTestController(t, src, Options{})
	ctx := context.Background()

	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(ctx, 1); err != nil {
		t.Fatalf("Open() while streaming = %v", err)
	}
	if got := c.State(); got != Opened {
		t.Errorf("State() = %v, want opened", got)
	}
	if src.Opens() != 2 || src.Releases() != 1 {
		t.Errorf("opens/releases = %d/%d, want 2/1", src.Opens(), src.Releases())
	}
	if got := c.AppliedSettings().DeviceIndex; got != 1 {
		t.Errorf("applied DeviceIndex = %d, want 1", got)
	}
}

func TestController_ConcurrentStop(t *testing.T) {
	c := newTestController(t, smallSource(synthetic.Options{}), Options{})
	ctx := context.Background()
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.StopStreaming()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("StopStreaming() = %v", err)
		}
	}
	if got := c.State(); got != Opened {
		t.Errorf("State() = %v, want opened", got)
	}
}

func TestController_NoPushesAfterClose(t *testing.T) {
	src := smallSource(synthetic.Options{})
	c := newTestController(t, src, Options{})
	ctx := context.Background()
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return c.Stats().Frames >= 3 })

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	pushed, reads := c.Queue().Pushed(), src.Reads()
	time.Sleep(20 * time.Millisecond)

	if got := c.Queue().Pushed(); got != pushed {
		t.Errorf("queue received %d pushes after Close", got-pushed)
	}
	if got := src.Reads(); got != reads {
		t.Errorf("source read %d times after Close", got-reads)
	}
	if src.Releases() != 1 {
		t.Errorf("Releases() = %d, want 1", src.Releases())
	}
}

func TestController_StateHooks(t *testing.T) {
	c := newTestController(t, smallSource(synthetic.Options{}), Options{})
	ctx := context.Background()

	type transition struct{ From, To State }
	var got []transition
	c.OnStateChange(func(old, new State) {
		got = append(got, transition{old, new})
	})

	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	want := []transition{
		{Closed, Opened},
		{Opened, Streaming},
		{Streaming, Opened},
		{Opened, Closed},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
}

func TestController_Capture(t *testing.T) {
	ctx := context.Background()

	t.Run("burst", func(t *testing.T) {
		c := newTestController(t, smallSource(synthetic.Options{}), Options{})
		if _, err := c.Capture(ctx, 3); !errors.Is(err, ErrPrecondition) {
			t.Fatalf("Capture() while closed = %v, want ErrPrecondition", err)
		}
		if err := c.Open(ctx, 0); err != nil {
			t.Fatal(err)
		}
		frames, err := c.Capture(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(frames) != 5 {
			t.Fatalf("len(frames) = %d, want 5", len(frames))
		}
		for i, f := range frames {
			if f.Seq != uint64(i+1) || f.TraceID == "" || f.Timestamp.IsZero() {
				t.Errorf("frame %d = seq %d trace %q ts %v", i, f.Seq, f.TraceID, f.Timestamp)
			}
		}
	})

	t.Run("stops at first failure", func(t *testing.T) {
		c := newTestController(t, smallSource(synthetic.Options{FailEvery: 3}), Options{})
		if err := c.Open(ctx, 0); err != nil {
			t.Fatal(err)
		}
		frames, err := c.Capture(ctx, 5)
		if !errors.Is(err, ErrReadFailure) {
			t.Fatalf("Capture() error = %v, want ErrReadFailure", err)
		}
		if len(frames) != 2 {
			t.Errorf("len(frames) = %d, want 2", len(frames))
		}
	})

	t.Run("refused while streaming", func(t *testing.T) {
		c := newTestController(t, smallSource(synthetic.Options{}), Options{})
		if err := c.Open(ctx, 0); err != nil {
			t.Fatal(err)
		}
		if err := c.StartStreaming(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Capture(ctx, 1); !errors.Is(err, ErrPrecondition) {
			t.Errorf("Capture() while streaming = %v, want ErrPrecondition", err)
		}
	})
}

// plainSource hides the synthetic source's Describe method.
type plainSource struct{ Source }

func TestController_Describe(t *testing.T) {
	ctx := context.Background()
	src := smallSource(synthetic.Options{})
	c := newTestController(t, src, Options{})

	if _, err := c.Describe(); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Describe() while closed = %v, want ErrPrecondition", err)
	}
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	info, err := c.Describe()
	if err != nil {
		t.Fatal(err)
	}
	if info.Backend != "synthetic" {
		t.Errorf("Backend = %q", info.Backend)
	}

	plain := NewController(plainSource{smallSource(synthetic.Options{})}, Options{Logger: testLogger()})
	defer plain.Close()
	if err := plain.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := plain.Describe(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Describe() on plain source = %v, want ErrNotSupported", err)
	}
}

func TestController_Warmup(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, smallSource(synthetic.Options{Interval: 5 * time.Millisecond}), Options{})

	if _, err := c.Warmup(ctx, time.Millisecond); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Warmup() while closed = %v, want ErrPrecondition", err)
	}
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Warmup(ctx, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Warmup() = %v", err)
	}
	if stats.Frames < 2 || stats.FPSMean <= 0 {
		t.Errorf("Warmup() = %+v, want frames and a positive rate", stats)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.Warmup(cancelled, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Warmup() with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestController_EscalationSurfacesOnStop(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, smallSource(synthetic.Options{FailEvery: 1}), Options{
		MaxConsecutiveFailures: 3,
	})
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "session failure", func() bool { return c.Stats().LastError != nil })
	if got := c.State(); got != Streaming {
		t.Errorf("State() = %v, want streaming until stopped", got)
	}

	if err := c.StopStreaming(); !errors.Is(err, ErrTooManyFailures) {
		t.Errorf("StopStreaming() = %v, want ErrTooManyFailures", err)
	}
	if got := c.State(); got != Opened {
		t.Errorf("State() = %v, want opened", got)
	}
}

func TestController_RestartClearsQueue(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	c := newTestController(t, smallSource(synthetic.Options{}), Options{Clock: mock})
	if err := c.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "full queue", func() bool { return c.Queue().Len() == c.Queue().Cap() })
	if err := c.StopStreaming(); err != nil {
		t.Fatal(err)
	}

	// Every sample of the second session is stamped at or after restartAt.
	mock.Add(time.Hour)
	restartAt := mock.Now()
	if err := c.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "new frames", func() bool { return c.Stats().Frames >= 3 })

	for {
		s, ok := c.Queue().Pop()
		if !ok {
			break
		}
		if s.Frame.Timestamp.Before(restartAt) {
			t.Fatalf("stale sample seq %d from the previous session", s.Frame.Seq)
		}
	}
	if got := c.Stats().Sessions; got != 2 {
		t.Errorf("Sessions = %d, want 2", got)
	}
}
