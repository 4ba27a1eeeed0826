package supervisor

import (
	"fmt"
	"time"
)

const (
	DefaultMinTokenLen   = 3
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = time.Minute
	DefaultMaxAttempts   = 10
	DefaultFallbackAfter = 3
	DefaultProbeInterval = 30 * time.Second
	DefaultPingInterval  = 30 * time.Second
	DefaultWatchdog      = 45 * time.Second
	DefaultDialTimeout   = 15 * time.Second
)

// Config tunes reconnection and liveness. Zero values take the defaults.
type Config struct {
	MinTokenLen int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// FallbackAfter is the number of consecutive failed WebSocket dials after
	// which the polling transport is tried.
	FallbackAfter int
	// ProbeInterval is how often the WebSocket is retried while polling.
	ProbeInterval time.Duration

	PingInterval time.Duration
	Watchdog     time.Duration
	DialTimeout  time.Duration
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.MinTokenLen == 0 {
		c.MinTokenLen = DefaultMinTokenLen
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.FallbackAfter == 0 {
		c.FallbackAfter = DefaultFallbackAfter
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Watchdog == 0 {
		c.Watchdog = DefaultWatchdog
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	switch {
	case c.MinTokenLen < 0, c.MaxAttempts < 0, c.FallbackAfter < 0:
		return fmt.Errorf("supervisor config: counts must not be negative")
	case c.BaseDelay < 0, c.MaxDelay < 0, c.ProbeInterval < 0, c.PingInterval < 0, c.Watchdog < 0, c.DialTimeout < 0:
		return fmt.Errorf("supervisor config: durations must not be negative")
	case c.BaseDelay > c.MaxDelay:
		return fmt.Errorf("supervisor config: base delay %s exceeds max delay %s", c.BaseDelay, c.MaxDelay)
	case c.Watchdog <= c.PingInterval:
		return fmt.Errorf("supervisor config: watchdog %s must exceed ping interval %s", c.Watchdog, c.PingInterval)
	}
	return nil
}
