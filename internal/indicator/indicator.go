// Package indicator lights a GPIO tally while the controller is streaming.
package indicator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/capture"
)

// Pin is the subset of rpio.Pin the tally drives.
type Pin interface {
	Input()
	Output()
	High()
	Low()
}

// Tally mirrors the controller state on one output pin.
type Tally struct {
	pin       Pin
	activeLow bool
	log       capture.Logger
	release   func() error

	mu  sync.Mutex
	lit bool
}

// Open maps GPIO memory and returns a tally on BCM pin n.
// Requires /dev/gpiomem or root.
func Open(n int, activeLow bool, logger capture.Logger) (*Tally, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("indicator: failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	t := New(rpio.Pin(n), activeLow, logger)
	t.release = rpio.Close
	t.log.Info("indicator: tally ready", "pin", n, "active_low", activeLow)
	return t, nil
}

// New returns a tally on an already mapped pin, switched off.
func New(pin Pin, activeLow bool, logger capture.Logger) *Tally {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tally{pin: pin, activeLow: activeLow, log: logger}
	pin.Output()
	t.drive(false)
	return t
}

// Set switches the tally on or off.
func (t *Tally) Set(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on == t.lit {
		return
	}
	t.drive(on)
	t.lit = on
	t.log.Debug("indicator: tally changed", "on", on)
}

// Lit reports the current tally state.
func (t *Tally) Lit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lit
}

// OnStateChange is a controller state hook.
func (t *Tally) OnStateChange(_, to cameraframework.State) {
	t.Set(to == cameraframework.Streaming)
}

func (t *Tally) drive(on bool) {
	if on != t.activeLow {
		t.pin.High()
	} else {
		t.pin.Low()
	}
}

// Close switches the tally off and returns the pin to input (safe state).
func (t *Tally) Close() error {
	t.Set(false)
	t.pin.Input()
	if t.release != nil {
		return t.release()
	}
	return nil
}
