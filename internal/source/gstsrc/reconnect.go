package gstsrc

import (
	"time"
)

// ReconnectConfig bounds pipeline restarts after an error or end of stream.
type ReconnectConfig struct {
	MaxRetries    int           // Restarts before giving up (default: 5)
	RetryDelay    time.Duration // Delay before the first restart (default: 1s)
	MaxRetryDelay time.Duration // Cap (default: 30s)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	def := DefaultReconnectConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	return c
}

// reconnectDelay returns the wait before restart attempt n (1-based).
//
// Formula: delay = retryDelay * 2^(attempt-1), capped at maxRetryDelay.
//   - Attempt 1: 1s
//   - Attempt 3: 4s
//   - Attempt 6: 30s (capped)
func reconnectDelay(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// reconnector schedules restarts of a broken pipeline. It never sleeps:
// ReadFrame asks whether a restart is due and reports the outcome, while
// the acquisition loop paces the calls.
type reconnector struct {
	cfg ReconnectConfig

	broken   bool
	gaveUp   bool
	attempts int
	nextAt   time.Time
	total    uint32
}

// fail marks the pipeline broken and schedules the next attempt. It returns
// false once MaxRetries restarts have failed. A negative MaxRetries never
// gives up.
func (r *reconnector) fail(now time.Time) bool {
	if r.broken {
		r.attempts++
	}
	r.broken = true
	if r.cfg.MaxRetries > 0 && r.attempts >= r.cfg.MaxRetries {
		r.gaveUp = true
		return false
	}
	r.nextAt = now.Add(reconnectDelay(r.attempts+1, r.cfg))
	return true
}

// due reports whether a restart should be tried now.
func (r *reconnector) due(now time.Time) bool {
	return r.broken && !r.gaveUp && !now.Before(r.nextAt)
}

// recovered resets the schedule after a successful restart.
func (r *reconnector) recovered() {
	if r.broken {
		r.total++
	}
	r.broken, r.attempts = false, 0
}
