// Package event defines the clipboard event that flows through the sync engine,
// its history and the relay.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Origin records where an event was first observed.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is one synchronized clipboard value.
//
// Timestamp is the relay-assigned epoch milliseconds. Local events carry 0
// until the relay echoes them back.
type Event struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Origin    Origin `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

// NewLocal builds a provisional event for content copied on this device.
func NewLocal(content string) Event {
	return Event{
		ID:      uuid.NewString(),
		Content: content,
		Origin:  OriginLocal,
	}
}

// Provisional reports whether the event is still waiting for a relay timestamp.
func (e Event) Provisional() bool { return e.Timestamp == 0 }

// Time returns the relay timestamp, or the zero time for provisional events.
func (e Event) Time() time.Time {
	if e.Provisional() {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp)
}

// NowMillis is the timestamp format used on the wire.
func NowMillis() int64 { return time.Now().UnixMilli() }
