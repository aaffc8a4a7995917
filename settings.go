package cameraframework

import "fmt"

// StageSettings records s as the pending settings. Allowed in every state;
// nothing takes effect until Apply.
func (c *Controller) StageSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = s
	return nil
}

// PendingSettings returns the staged settings.
func (c *Controller) PendingSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// AppliedSettings returns the committed settings.
func (c *Controller) AppliedSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Apply commits the pending settings for the next StartStreaming.
// While Streaming it returns a *PreconditionError and changes nothing.
func (c *Controller) Apply() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(c.pending)
}

// ApplySettings stages and commits s in one step. While Streaming it returns
// a *PreconditionError and neither the pending nor the applied set changes.
func (c *Controller) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(s)
}

func (c *Controller) applyLocked(s Settings) error {
	if st := c.State(); st == Streaming {
		return &PreconditionError{Op: "ApplySettings", State: st}
	}
	c.pending = s
	c.applied = s
	c.log.Info("camera-framework: settings applied",
		"device_index", s.DeviceIndex,
		"resolution", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"target_fps", s.TargetFPS,
		"queue_capacity", s.QueueCapacity,
	)
	return nil
}
