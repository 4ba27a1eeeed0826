package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/corridor/internal/message"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 1 << 20
)

// WebSocketDialer connects to `<URL>?token=<token>`.
type WebSocketDialer struct {
	URL              string
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	target, err := withToken(d.URL, token)
	if err != nil {
		return nil, err
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(wsMaxFrameSize)
	return &wsConn{conn: conn, closed: make(chan struct{})}, nil
}

type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func (c *wsConn) Kind() Kind { return KindWebSocket }

func (c *wsConn) Send(msg *message.Message) error {
	b, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *wsConn) Recv() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		return data, nil
	}
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return nil, fmt.Errorf("websocket closed by relay: %w", err)
	}
	return nil, fmt.Errorf("websocket read: %w", err)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
