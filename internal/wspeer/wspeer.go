// Package wspeer adapts one relay-side WebSocket connection into a hub.Peer.
package wspeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go.klb.dev/corridor/internal/hub"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize leaves room for JSON escaping of a full-size update.
	maxFrameSize = 256 * 1024
)

// Limiter decides whether a token may publish now.
type Limiter interface {
	Allow(token string) bool
}

// Options tunes what a peer accepts from its client.
type Options struct {
	MaxContentLen int
	Limiter       Limiter
}

// Peer wraps a single WebSocket connection as a hub.Peer.
type Peer struct {
	id     string
	token  string
	addr   string
	conn   *websocket.Conn
	h      *hub.Hub
	opts   Options
	sendCh chan *message.Message
	done   chan struct{}
	once   sync.Once
}

// New creates a Peer for conn in token's room.
func New(conn *websocket.Conn, h *hub.Hub, token string, opts Options) *Peer {
	return &Peer{
		id:     uuid.NewString()[:8],
		token:  token,
		addr:   conn.RemoteAddr().String(),
		conn:   conn,
		h:      h,
		opts:   opts,
		sendCh: make(chan *message.Message, 64),
		done:   make(chan struct{}),
	}
}

func (p *Peer) ID() string    { return p.id }
func (p *Peer) Token() string { return p.token }

// Send queues msg for the writer. It never blocks.
func (p *Peer) Send(msg *message.Message) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.sendCh <- msg:
	default:
		slog.Warn("websocket send channel full, dropping", "peer", p.id)
	}
}

// close stops the writer, which sends a close frame and closes the socket.
func (p *Peer) close() {
	p.once.Do(func() { close(p.done) })
}

// Serve registers with the hub and runs the read and write loops until the
// connection ends or ctx is cancelled.
func (p *Peer) Serve(ctx context.Context) {
	defer p.close()
	log := slog.With("peer", p.id, "addr", p.addr, "token", logging.RedactToken(p.token))

	if err := p.h.Register(ctx, p); err != nil {
		log.Error("register failed", "err", err)
		_ = p.write(message.NewError("room unavailable"))
		_ = p.conn.Close()
		return
	}
	defer p.h.Unregister(p)

	go func() {
		select {
		case <-ctx.Done():
			p.close()
		case <-p.done:
		}
	}()
	go p.writeLoop(log)

	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("connection closed", "err", err)
			} else {
				log.Debug("connection closed")
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		p.handle(ctx, log, raw)
	}
}

func (p *Peer) handle(ctx context.Context, log *slog.Logger, raw []byte) {
	msg, err := message.Decode(raw)
	if err != nil {
		log.Warn("bad message", "err", err)
		p.Send(message.NewError("malformed message"))
		return
	}

	switch msg.Type {
	case message.TypeUpdate:
		if err := p.validate(msg.Data.Content); err != nil {
			p.Send(message.NewError(err.Error()))
			return
		}
		if p.opts.Limiter != nil && !p.opts.Limiter.Allow(p.token) {
			log.Warn("rate limited")
			p.Send(message.NewError("rate limit exceeded"))
			return
		}
		if _, err := p.h.Publish(ctx, p.token, msg.Data.Content, p.id); err != nil {
			log.Error("publish failed", "err", err)
			p.Send(message.NewError("publish failed"))
		}

	case message.TypeHistory:
		items, err := p.h.History(ctx, p.token)
		if err != nil {
			log.Error("history failed", "err", err)
			p.Send(message.NewError("history unavailable"))
			return
		}
		p.Send(message.NewHistory(items))

	case message.TypeClear:
		if err := p.h.Clear(ctx, p.token, p.id); err != nil {
			log.Error("clear failed", "err", err)
			p.Send(message.NewError("clear failed"))
		}

	case message.TypePing:
		p.Send(message.Pong)

	case message.TypePong:

	default:
		log.Warn("unexpected message type", "type", msg.Type)
		p.Send(message.NewError(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// ErrInvalidContent is returned for updates the relay refuses to store.
var ErrInvalidContent = errors.New("invalid content")

func (p *Peer) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if p.opts.MaxContentLen > 0 && len(content) > p.opts.MaxContentLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidContent, len(content), p.opts.MaxContentLen)
	}
	return nil
}

func (p *Peer) writeLoop(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case msg := <-p.sendCh:
			if err := p.write(msg); err != nil {
				log.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) write(msg *message.Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}
