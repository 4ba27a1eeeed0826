package supervisor

import (
	"errors"
	"time"
)

// State is the lifecycle state of a sync connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// DegradedFallback means the HTTP polling transport is carrying the room.
	DegradedFallback
	// Error is terminal until the next Connect, e.g. after the relay
	// rejected the token.
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case DegradedFallback:
		return "degraded_fallback"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether messages can be sent in this state.
func (s State) Active() bool { return s == Connected || s == DegradedFallback }

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrNotConnected     = errors.New("not connected")
	ErrWatchdog         = errors.New("watchdog: relay silent too long")
)

// Delay returns the backoff before retry number attempt (0-based):
// min(base * 2^attempt, max).
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for range attempt {
		if d > max/2 {
			return max
		}
		d *= 2
	}
	return min(d, max)
}

// MarshalText lets JSON log handlers print the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
