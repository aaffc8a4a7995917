package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/config"
	"github.com/likelystudying/camera-framework/internal/indicator"
	"github.com/likelystudying/camera-framework/internal/telemetry"
)

func streamCmd(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	cfg, log := e.cfg, e.logs.Logger
	ctx := c.Context

	src, err := newSource(cfg, log)
	if err != nil {
		return err
	}
	ctrl := newController(cfg, src, log)
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Warn("camera-framework: close failed", "error", err)
		}
	}()

	if cfg.Indicator.Pin > 0 {
		tally, err := indicator.Open(cfg.Indicator.Pin, cfg.Indicator.ActiveLow, log)
		if err != nil {
			log.Warn("camera-framework: tally disabled", "error", err)
		} else {
			defer tally.Close()
			ctrl.OnStateChange(tally.OnStateChange)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.Broker != "" {
		pub, err := telemetry.Connect(ctx, cfg.Telemetry, cfg.InstanceID, log)
		if err != nil {
			log.Warn("camera-framework: telemetry disabled", "error", err)
		} else {
			defer pub.Close()
			ctrl.OnStateChange(pub.PublishState)
			g.Go(func() error {
				return pub.Run(ctx, cfg.TelemetryInterval(), func() telemetry.Report {
					return telemetry.NewReport(cfg.InstanceID, ctrl.Stats(), time.Now())
				})
			})
		}
	}

	out, err := newOutput(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := ctrl.Open(ctx, cfg.Device.Index); err != nil {
		return err
	}
	if err := ctrl.StartStreaming(ctx); err != nil {
		return err
	}

	if d := cfg.Warmup(); d > 0 {
		g.Go(func() error {
			stats, err := ctrl.Warmup(ctx, d)
			if err != nil {
				log.Warn("camera-framework: warm-up failed", "error", err)
				return nil
			}
			log.Info("camera-framework: warm-up complete",
				"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
				"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
				"jitter_max_ms", fmt.Sprintf("%.1f", stats.JitterMax*1000),
				"stable", stats.IsStable,
			)
			return nil
		})
	}

	g.Go(func() error { return consume(ctx, ctrl, out, cfg.Output.SaveEvery, log) })
	g.Go(func() error { return reportStats(ctx, ctrl, cfg.StatsInterval(), log) })

	if e.cfgPath != "" && c.Bool("watch") {
		reloads := make(chan *config.Config, 1)
		g.Go(func() error {
			return config.Watch(ctx, e.cfgPath, log, func(next *config.Config) {
				// Keep only the newest pending config.
				select {
				case <-reloads:
				default:
				}
				reloads <- next
			})
		})
		g.Go(func() error { return applyReloads(ctx, ctrl, cfg, reloads, log) })
	}

	// Close wakes the consumer once the group context ends.
	g.Go(func() error {
		<-ctx.Done()
		log.Info("camera-framework: shutting down")
		return ctrl.Close()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	final := ctrl.Stats()
	log.Info("camera-framework: stopped",
		"sessions", final.Sessions,
		"frames", final.Frames,
		"frames_dropped", final.FramesDropped,
		"read_failures", final.ReadFailures,
	)
	return err
}

// consume pops samples and saves every Nth frame. A zero saveEvery only
// drains the queue.
func consume(ctx context.Context, ctrl *cameraframework.Controller, out cameraframework.Sink, saveEvery int, log capture.Logger) error {
	var n int
	return cameraframework.Consume(ctx, ctrl.Queue(), func(s cameraframework.Sample) error {
		n++
		if saveEvery == 0 || n%saveEvery != 0 {
			return nil
		}
		path, err := out.Save(s.Frame, "")
		if err != nil {
			log.Warn("camera-framework: save failed", "seq", s.Frame.Seq, "error", err)
			return nil
		}
		log.Debug("camera-framework: frame saved",
			"path", path,
			"seq", s.Frame.Seq,
			"fps", fmt.Sprintf("%.2f", s.FPS),
		)
		return nil
	})
}

func reportStats(ctx context.Context, ctrl *cameraframework.Controller, every time.Duration, log capture.Logger) error {
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := ctrl.Stats()
			log.Info("camera-framework: stats",
				"state", st.State,
				"frames", st.Frames,
				"frames_dropped", st.FramesDropped,
				"read_failures", st.ReadFailures,
				"fps", fmt.Sprintf("%.2f", st.LastFPS),
				"fps_mean", fmt.Sprintf("%.2f", st.Window.FPSMean),
				"queue", fmt.Sprintf("%d/%d", st.QueueLen, st.QueueCap),
			)
			if st.LastError != nil {
				log.Error("camera-framework: session ended early", "error", st.LastError)
			}
		}
	}
}

// applyReloads restarts streaming with the settings of every reloaded
// config. Changes that need a different source are logged and ignored.
func applyReloads(ctx context.Context, ctrl *cameraframework.Controller, current *config.Config, reloads <-chan *config.Config, log capture.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-reloads:
			if next.SourceChanged(current) {
				log.Warn("camera-framework: device source change requires restart",
					"old", current.Device.Kind,
					"new", next.Device.Kind,
				)
				continue
			}
			if next.Settings() == ctrl.AppliedSettings() {
				continue
			}
			if err := restart(ctx, ctrl, next.Settings(), log); err != nil {
				log.Error("camera-framework: apply reloaded settings failed", "error", err)
				continue
			}
			current = next
		}
	}
}

// restart applies s between two streaming sessions. An error that ended the
// previous session early is logged, not returned.
func restart(ctx context.Context, ctrl *cameraframework.Controller, s cameraframework.Settings, log capture.Logger) error {
	if err := ctrl.StopStreaming(); err != nil {
		log.Warn("camera-framework: previous session ended with error", "error", err)
	}
	if err := ctrl.ApplySettings(s); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := ctrl.StartStreaming(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}
