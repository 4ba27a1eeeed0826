package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.klb.dev/corridor/internal/message"
)

const (
	DefaultPollInterval = 5 * time.Second
	pollRequestTimeout  = 10 * time.Second
	pollInboxSize       = 16
	pollOutboxSize      = 16
)

var errOutboxFull = errors.New("poll send queue full")

// PollingDialer opens a Conn that emulates the relay WebSocket over plain
// HTTP. Room snapshots are surfaced as clipboard_history pushes whenever they
// change, and a new newest item as a clipboard_update; outbound messages map
// onto the HTTP API.
type PollingDialer struct {
	API      *API
	Interval time.Duration
}

func (d *PollingDialer) Dial(ctx context.Context, token string) (Conn, error) {
	items, err := d.API.Fetch(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("poll dial: %w", err)
	}
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		api:      d.API,
		token:    token,
		interval: interval,
		ctx:      cctx,
		cancel:   cancel,
		inbox:    make(chan []byte, pollInboxSize),
		outbox:   make(chan *message.Message, pollOutboxSize),
		newest:   headID(items),
	}
	// The first snapshot is history only: what was current before we
	// connected is not a new copy.
	c.snapshot(items, true)
	go c.loop()
	go c.sendLoop()
	return c, nil
}

type pollConn struct {
	api      *API
	token    string
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan []byte
	outbox chan *message.Message

	mu          sync.Mutex
	fingerprint string
	newest      string
	err         error
}

func (c *pollConn) Kind() Kind { return KindPolling }

func (c *pollConn) loop() {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			if err := c.refresh(false); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// sendLoop performs queued requests so a slow relay never blocks the caller
// of Send. Requests the relay refuses come back as error messages, like on
// the WebSocket; any other failure closes the conn.
func (c *pollConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			err := c.perform(msg)
			if err == nil {
				continue
			}
			var se *StatusError
			if errors.As(err, &se) && se.Rejected() {
				slog.Warn("relay refused request", "type", msg.Type, "status", se.Code)
				c.deliver(message.NewError(relayReason(se)))
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			c.fail(err)
			return
		}
	}
}

func (c *pollConn) refresh(force bool) error {
	ctx, cancel := context.WithTimeout(c.ctx, pollRequestTimeout)
	defer cancel()
	items, err := c.api.Fetch(ctx, c.token)
	if err != nil {
		return err
	}
	c.snapshot(items, force)
	return nil
}

// snapshot delivers items as a history push if they differ from the last
// delivered snapshot, or unconditionally when force is set. A newest item
// not seen before is delivered first as an update so it reaches the
// clipboard.
func (c *pollConn) snapshot(items []message.Item, force bool) {
	fp := fingerprint(items)
	c.mu.Lock()
	changed := fp != c.fingerprint
	c.fingerprint = fp
	var head *message.Item
	if id := headID(items); id != "" && id != c.newest {
		it := items[0]
		head = &it
	}
	c.newest = headID(items)
	c.mu.Unlock()

	if head != nil {
		c.deliver(&message.Message{Type: message.TypeUpdate, Data: head})
	}
	if changed || force {
		c.deliver(message.NewHistory(items))
	}
}

func (c *pollConn) deliver(msg *message.Message) {
	b, err := msg.Encode()
	if err != nil {
		slog.Error("poll encode failed", "err", err)
		return
	}
	select {
	case c.inbox <- b:
	case <-c.ctx.Done():
	default:
		slog.Warn("poll inbox full, dropping", "type", msg.Type)
	}
}

// Send queues msg for the relay and returns without waiting for the request.
func (c *pollConn) Send(msg *message.Message) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	switch msg.Type {
	case message.TypeUpdate:
		if msg.Data == nil {
			return fmt.Errorf("poll send: %w: update without data", message.ErrMalformed)
		}
	case message.TypeClear, message.TypeHistory, message.TypePing:
	case message.TypePong:
		return nil
	default:
		return fmt.Errorf("poll send: unsupported message type %q", msg.Type)
	}

	select {
	case c.outbox <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		return fmt.Errorf("poll send: %w", errOutboxFull)
	}
}

func (c *pollConn) perform(msg *message.Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, pollRequestTimeout)
	defer cancel()

	switch msg.Type {
	case message.TypeUpdate:
		item, err := c.api.Push(ctx, c.token, msg.Data.Content)
		if err != nil {
			return fmt.Errorf("poll push: %w", err)
		}
		// The WebSocket relay echoes updates to the sender; do the same so
		// the provisional history entry is acknowledged.
		if item != nil {
			c.mu.Lock()
			c.newest = item.ID
			c.mu.Unlock()
			c.deliver(&message.Message{Type: message.TypeUpdate, Data: item})
		}
		return nil

	case message.TypeClear:
		if err := c.api.Clear(ctx, c.token); err != nil {
			return fmt.Errorf("poll clear: %w", err)
		}
		c.snapshot(nil, true)
		return nil

	case message.TypeHistory:
		return c.refresh(true)

	case message.TypePing:
		if err := c.refresh(false); err != nil {
			return err
		}
		c.deliver(message.Pong)
		return nil
	}
	return nil
}

func (c *pollConn) Recv() ([]byte, error) {
	// Drain queued messages before reporting closure.
	select {
	case b := <-c.inbox:
		return b, nil
	default:
	}
	select {
	case b := <-c.inbox:
		return b, nil
	case <-c.ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		return nil, ErrClosed
	}
}

func (c *pollConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}

func headID(items []message.Item) string {
	if len(items) == 0 {
		return ""
	}
	return items[0].ID
}

// relayReason extracts the relay's error text from a refused request.
func relayReason(se *StatusError) string {
	var body message.ErrorResponse
	if err := json.Unmarshal([]byte(se.Body), &body); err == nil && body.Error != "" {
		return body.Error
	}
	return se.Error()
}

func fingerprint(items []message.Item) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.ID)
		b.WriteByte(0)
	}
	return b.String()
}
