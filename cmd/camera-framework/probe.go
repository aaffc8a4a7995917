package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

func probeCmd(c *cli.Context) (err error) {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	src, err := newSource(e.cfg, e.logs.Logger)
	if err != nil {
		return err
	}
	ctrl := newController(e.cfg, src, e.logs.Logger)
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	if err := ctrl.Open(c.Context, e.cfg.Device.Index); err != nil {
		return err
	}
	info, err := ctrl.Describe()
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%s (%s)\n", info.Label, info.Backend)
	keys := make([]string, 0, len(info.Properties))
	for k := range info.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, info.Properties[k])
	}
	fmt.Fprintf(w, "modes:\n")
	for _, m := range info.Modes {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return nil
}
