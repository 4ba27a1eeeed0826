package engine

import (
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/supervisor"
)

// Notification is delivered to subscribers. It is one of StateChanged,
// HistoryChanged or Warning.
type Notification interface {
	notification()
}

// StateChanged reports a connection state transition. Err is set for
// failures, e.g. transport.ErrAuthRejected with State Error.
type StateChanged struct {
	State supervisor.State
	Err   error
}

// HistoryChanged carries the full history after a mutation, newest first.
type HistoryChanged struct {
	Items []event.Event
}

// Warning is a user-visible condition that does not affect the connection:
// oversized content, clipboard permission failures, relay error messages.
type Warning struct {
	Err error
}

func (StateChanged) notification()   {}
func (HistoryChanged) notification() {}
func (Warning) notification()        {}
