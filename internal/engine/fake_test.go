package engine

import (
	"context"
	"sync"

	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/supervisor"
	"go.klb.dev/corridor/internal/transport"
)

// fakeSession records what the engine sends and lets tests drive state.
type fakeSession struct {
	events chan supervisor.Event

	mu      sync.Mutex
	state   supervisor.State
	token   string
	sent    []*message.Message
	retries int
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan supervisor.Event, 64)}
}

func (f *fakeSession) Connect(token string) error {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Disconnect() {}

func (f *fakeSession) RetryNow() {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
}

func (f *fakeSession) Send(m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Active() {
		return supervisor.ErrNotConnected
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSession) Events() <-chan supervisor.Event { return f.events }

func (f *fakeSession) Stats() supervisor.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return supervisor.Stats{State: f.state, Transport: transport.KindWebSocket}
}

func (f *fakeSession) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// setState changes the state and reports it to the engine.
func (f *fakeSession) setState(st supervisor.State, err error) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	f.events <- supervisor.Event{Kind: supervisor.EventState, State: st, Err: err}
}

func (f *fakeSession) deliver(raw string) {
	f.events <- supervisor.Event{Kind: supervisor.EventMessage, Data: []byte(raw)}
}

func (f *fakeSession) messages() []*message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*message.Message(nil), f.sent...)
}

func (f *fakeSession) updates() []string {
	var out []string
	for _, m := range f.messages() {
		if m.Type == message.TypeUpdate {
			out = append(out, m.Data.Content)
		}
	}
	return out
}

func (f *fakeSession) count(t message.Type) int {
	n := 0
	for _, m := range f.messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}
