package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/transport"
)

// fakeConn is an in-memory transport.Conn.
type fakeConn struct {
	kind   transport.Kind
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []*message.Message
	fail error
}

func newFakeConn(kind transport.Kind) *fakeConn {
	return &fakeConn{kind: kind, inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Kind() transport.Kind { return c.kind }

func (c *fakeConn) Send(m *message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case b := <-c.inbox:
		return b, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fail != nil {
			return nil, c.fail
		}
		return nil, transport.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// breakWith simulates the relay dropping the connection.
func (c *fakeConn) breakWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sentTypes() []message.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Type, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.Type
	}
	return out
}

// fakeDialer hands out connections or errors from a script.
type fakeDialer struct {
	kind  transport.Kind
	calls atomic.Int32

	mu    sync.Mutex
	err   error
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (transport.Conn, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn(d.kind)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

var errRefused = errors.New("connection refused")
