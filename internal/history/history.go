// Package history is the bounded, newest-first cache of synchronized clipboard
// events.
//
// Invariants held after every mutation: events are unique by id, the list is
// ordered newest first and its length never exceeds the capacity.
package history

import (
	"sync"

	"go.klb.dev/corridor/internal/event"
)

// DefaultCap is the number of events kept when no capacity is configured.
const DefaultCap = 50

// Store holds the history for one sync session. Mutations are expected from a
// single goroutine; reads are safe from any goroutine.
type Store struct {
	mu     sync.RWMutex
	cap    int
	events []event.Event
}

// New returns an empty store holding at most capacity events.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store{cap: capacity}
}

// Cap returns the configured capacity.
func (s *Store) Cap() int { return s.cap }

// Replace swaps the whole history for events, keeping their order. Duplicate
// ids keep their first occurrence and the result is trimmed to capacity.
func (s *Store) Replace(events []event.Event) {
	next := make([]event.Event, 0, min(len(events), s.cap))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if len(next) == s.cap {
			break
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		next = append(next, e)
	}

	s.mu.Lock()
	s.events = next
	s.mu.Unlock()
}

// Merge prepends e unless an event with the same id is already present.
// It reports whether the store changed.
func (s *Store) Merge(e event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(e.ID) >= 0 {
		return false
	}
	next := make([]event.Event, 0, min(len(s.events)+1, s.cap))
	next = append(next, e)
	for _, old := range s.events {
		if len(next) == s.cap {
			break
		}
		next = append(next, old)
	}
	s.events = next
	return true
}

// Acknowledge stamps the newest provisional event carrying content with the
// relay-assigned id and timestamp. It reports whether an event was stamped.
func (s *Store) Acknowledge(content, id string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) >= 0 {
		return false
	}
	for i := range s.events {
		e := &s.events[i]
		if e.Provisional() && e.Content == content {
			e.ID = id
			e.Timestamp = ts
			return true
		}
	}
	return false
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// Contains reports whether an event with id is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(id) >= 0
}

// Items returns a copy of the history, newest first.
func (s *Store) Items() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Newest returns the most recent event, if any.
func (s *Store) Newest() (event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return event.Event{}, false
	}
	return s.events[0], true
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) indexLocked(id string) int {
	for i, e := range s.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}
