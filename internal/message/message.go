// Package message defines the corridor wire protocol.
//
// Every message is a single JSON object tagged by "type". The same envelope
// travels over the relay WebSocket and is synthesized by the HTTP polling
// transport, so the engine only ever routes one shape:
//
//	{"type":"clipboard_history","history":[{"id":..,"content":..,"timestamp":..}]}
//	{"type":"clipboard_update","data":{"id":..,"content":..,"timestamp":..}}
//	{"type":"clear_history"}
//	{"type":"ping"} / {"type":"pong"}
//	{"type":"error","message":"..."}
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.klb.dev/corridor/internal/event"
)

// Type identifies the kind of message.
type Type string

const (
	TypeHistory Type = "clipboard_history"
	TypeUpdate  Type = "clipboard_update"
	TypeClear   Type = "clear_history"
	TypePing    Type = "ping"
	TypePong    Type = "pong"
	TypeError   Type = "error"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed message")

// Item is the wire form of a clipboard event. Origin is never transmitted.
type Item struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ItemOf converts an event to its wire form.
func ItemOf(e event.Event) Item {
	return Item{ID: e.ID, Content: e.Content, Timestamp: e.Timestamp}
}

// Event converts a wire item received from the relay into an event.
func (it Item) Event() event.Event {
	return event.Event{
		ID:        it.ID,
		Content:   it.Content,
		Origin:    event.OriginRemote,
		Timestamp: it.Timestamp,
	}
}

// Message is the top-level wire envelope.
type Message struct {
	Type Type `json:"type"`

	// clipboard_history; nil on a client request for a full push.
	History []Item `json:"history,omitempty"`

	// clipboard_update
	Data *Item `json:"data,omitempty"`

	// error. Older relays put the text in Error instead of Message.
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MarshalJSON keeps an empty history list on the wire so that a cleared room
// is distinguishable from a history request.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Type == TypeHistory && m.History != nil {
		return json.Marshal(struct {
			*alias
			History []Item `json:"history"`
		}{(*alias)(m), m.History})
	}
	return json.Marshal((*alias)(m))
}

// Encode serialises the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates one raw message.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeUpdate:
		if m.Data == nil {
			return nil, fmt.Errorf("%w: clipboard_update without data", ErrMalformed)
		}
	}
	return &m, nil
}

// PeekType returns the type of a raw message without validating the rest.
func PeekType(b []byte) Type {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// ErrorText returns the error string carried by an error message.
func (m *Message) ErrorText() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Error
}

// Events returns the history items as remote events, preserving order.
func (m *Message) Events() []event.Event {
	out := make([]event.Event, 0, len(m.History))
	for _, it := range m.History {
		out = append(out, it.Event())
	}
	return out
}

// NewUpdate wraps an event in a clipboard_update message.
func NewUpdate(e event.Event) *Message {
	it := ItemOf(e)
	return &Message{Type: TypeUpdate, Data: &it}
}

// NewHistory builds a full-history push. items may be empty but never nil on
// the wire.
func NewHistory(items []Item) *Message {
	if items == nil {
		items = []Item{}
	}
	return &Message{Type: TypeHistory, History: items}
}

// NewHistoryRequest asks the relay for a full-history push.
func NewHistoryRequest() *Message { return &Message{Type: TypeHistory} }

// NewError builds an error message for a client.
func NewError(text string) *Message {
	return &Message{Type: TypeError, Message: text}
}

var (
	Ping  = &Message{Type: TypePing}
	Pong  = &Message{Type: TypePong}
	Clear = &Message{Type: TypeClear}
)
