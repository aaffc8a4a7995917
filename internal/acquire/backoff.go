package acquire

import "time"

// BackoffConfig bounds the pause between consecutive failed reads.
type BackoffConfig struct {
	InitialDelay time.Duration // Delay after the first failure (default: 1ms)
	MaxDelay     time.Duration // Cap (default: 50ms)
}

// DefaultBackoffConfig keeps a flaky device from spinning the CPU while still
// reacting within one frame interval at 20 FPS.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultBackoffConfig.
func (c BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

// calculateBackoff returns the pause after the given consecutive failure.
//
// Formula: delay = initialDelay * 2^(failures-2), capped at maxDelay.
// The first failure gets no pause so a single dropped read costs nothing.
//
// Example with defaults (1ms, 50ms):
//   - Failure 1: 0
//   - Failure 2: 1ms
//   - Failure 3: 2ms
//   - Failure 8: 50ms (capped)
func calculateBackoff(failures int, cfg BackoffConfig) time.Duration {
	if failures <= 1 {
		return 0
	}
	shift := failures - 2
	if shift > 20 {
		return cfg.MaxDelay
	}
	delay := cfg.InitialDelay * time.Duration(1<<uint(shift))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
