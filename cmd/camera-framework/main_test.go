package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/config"
)

func writeConfig(t *testing.T, body string) (path, outDir string) {
	t.Helper()
	dir := t.TempDir()
	outDir = filepath.Join(dir, "out")
	path = filepath.Join(dir, "camera.yaml")
	cfg := fmt.Sprintf("device:\n  kind: synthetic\n  width: 8\n  height: 4\noutput:\n  dir: %s\nlog:\n  level: error\n%s", outDir, body)
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, outDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.RunContext(context.Background(), append([]string{"camera-framework"}, args...))
	return out.String(), err
}

func TestSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		format string
		count  int
		files  int
	}{
		{"png burst", "png", 3, 3},
		{"jpeg single", "jpeg", 1, 1},
		{"msgpack recording", "msgpack", 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, outDir := writeConfig(t, "")
			data, _ := os.ReadFile(path)
			data = bytes.Replace(data, []byte("output:\n"), []byte("output:\n  format: "+tt.format+"\n"), 1)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatal(err)
			}

			stdout, err := run(t, "--config", path, "snapshot", "--count", fmt.Sprint(tt.count))
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if got := strings.Count(stdout, "\n"); got != tt.count {
				t.Errorf("printed %d paths, want %d:\n%s", got, tt.count, stdout)
			}
			entries, err := os.ReadDir(outDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.files {
				t.Errorf("%d files in output dir, want %d", len(entries), tt.files)
			}
		})
	}
}

func TestSnapshot_InvalidCount(t *testing.T) {
	path, _ := writeConfig(t, "")
	if _, err := run(t, "--config", path, "snapshot", "--count", "0"); err == nil {
		t.Fatal("snapshot --count 0: want error")
	}
}

func TestProbe(t *testing.T) {
	path, _ := writeConfig(t, "")
	stdout, err := run(t, "--config", path, "probe")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	for _, want := range []string{"synthetic test pattern 0", "(synthetic)", "modes:", "serial:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("probe output missing %q:\n%s", want, stdout)
		}
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "probe"); err == nil {
		t.Fatal("explicit missing config: want error")
	}
}

func TestApplyReloads(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Device.Width, cfg.Device.Height = 8, 4

	src, err := newSource(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := newController(cfg, src, log)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Open(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan *config.Config, 2)
	done := make(chan error, 1)
	go func() { done <- applyReloads(ctx, ctrl, cfg, reloads, log) }()

	// A source change is ignored.
	moved := *cfg
	moved.Device.Kind = config.KindVideoTest
	reloads <- &moved

	resized := *cfg
	resized.Queue.Capacity = 3
	resized.Device.Width = 12
	reloads <- &resized

	deadline := time.Now().Add(5 * time.Second)
	for ctrl.AppliedSettings().QueueCapacity != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("settings not applied: %+v", ctrl.AppliedSettings())
		}
		time.Sleep(time.Millisecond)
	}
	for ctrl.State() != cameraframework.Streaming || ctrl.Queue().Cap() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("not streaming with new capacity: state %s cap %d", ctrl.State(), ctrl.Queue().Cap())
		}
		time.Sleep(time.Millisecond)
	}
	if got := ctrl.AppliedSettings().Width; got != 12 {
		t.Errorf("Width = %d, want 12", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("applyReloads() = %v", err)
	}
}
