package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

func snapshotCmd(c *cli.Context) (err error) {
	n := c.Int("count")
	if n < 1 {
		return fmt.Errorf("camera-framework: --count must be >= 1, got %d", n)
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()
	log := e.logs.Logger

	src, err := newSource(e.cfg, log)
	if err != nil {
		return err
	}
	ctrl := newController(e.cfg, src, log)
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	out, err := newOutput(e.cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	if err := ctrl.Open(c.Context, e.cfg.Device.Index); err != nil {
		return err
	}
	frames, capErr := ctrl.Capture(c.Context, n)
	for _, f := range frames {
		path, err := out.Save(f, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, path)
	}
	if capErr != nil {
		return fmt.Errorf("camera-framework: captured %d of %d frames: %w", len(frames), n, capErr)
	}
	return nil
}
