// Command camera-framework streams, snapshots and probes cameras.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/likelystudying/camera-framework/internal/config"
	"github.com/likelystudying/camera-framework/internal/logsink"
)

const defaultConfigPath = "config/camera.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("camera-framework: fatal", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "camera-framework",
		Usage: "capture frames from a camera into a bounded queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"CAMERA_FRAMEWORK_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "stream",
				Usage:  "stream until interrupted, saving every Nth frame",
				Action: streamCmd,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Value: true, Usage: "reload the config file on change"},
				},
			},
			{
				Name:   "snapshot",
				Usage:  "capture a burst of frames and save them",
				Action: snapshotCmd,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "number of frames"},
				},
			},
			{
				Name:   "probe",
				Usage:  "print the device label and supported modes",
				Action: probeCmd,
			},
		},
	}
}

// env is what every command needs before touching the device.
type env struct {
	cfgPath string
	cfg     *config.Config
	logs    *logsink.Sink
}

// setup loads the config (defaults when the default path is absent) and
// builds the logger.
func setup(c *cli.Context) (*env, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !c.IsSet("config") && errors.Is(err, fs.ErrNotExist) {
			cfg, path = config.Default(), ""
		} else {
			return nil, err
		}
	}
	if c.Bool("debug") {
		cfg.Log.Level = "debug"
	}

	logs, err := logsink.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if logs.Slog != nil {
		slog.SetDefault(logs.Slog)
	}
	logs.Logger.Info("camera-framework: starting",
		"config", path,
		"instance_id", cfg.InstanceID,
		"device", cfg.Device.Kind,
	)
	return &env{cfgPath: path, cfg: cfg, logs: logs}, nil
}

func (e *env) close() {
	if err := e.logs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "camera-framework: close log: %v\n", err)
	}
}
