package engine

import (
	"fmt"
	"time"

	"go.klb.dev/corridor/internal/history"
	"go.klb.dev/corridor/internal/supervisor"
)

const (
	DefaultMaxContentLen = 10000
	DefaultDebounce      = 150 * time.Millisecond
)

// Config holds the session settings. Zero values take the defaults.
type Config struct {
	Token       string
	MinTokenLen int

	// MaxContentLen is measured in bytes of UTF-8.
	MaxContentLen int
	Debounce      time.Duration
	HistoryCap    int
}

// Validate applies defaults and checks the token.
func (c *Config) Validate() error {
	if c.MinTokenLen == 0 {
		c.MinTokenLen = supervisor.DefaultMinTokenLen
	}
	if c.MaxContentLen == 0 {
		c.MaxContentLen = DefaultMaxContentLen
	}
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.HistoryCap == 0 {
		c.HistoryCap = history.DefaultCap
	}

	switch {
	case c.MinTokenLen < 0, c.MaxContentLen < 0, c.HistoryCap < 0, c.Debounce < 0:
		return fmt.Errorf("engine config: values must not be negative")
	case len([]rune(c.Token)) < c.MinTokenLen:
		return fmt.Errorf("%w: need at least %d characters", ErrInvalidToken, c.MinTokenLen)
	}
	return nil
}
