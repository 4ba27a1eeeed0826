// Package transport carries wire messages between the sync engine and a
// relay: a persistent WebSocket, or periodic HTTP polling of the same room
// when the WebSocket is unavailable.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.klb.dev/corridor/internal/message"
)

// Kind names the transport behind a Conn.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindPolling   Kind = "polling"
)

var (
	// ErrAuthRejected means the relay refused the token. It is terminal:
	// retrying with the same token cannot succeed.
	ErrAuthRejected = errors.New("auth rejected")

	// ErrClosed is returned by Recv after Close.
	ErrClosed = errors.New("transport closed")
)

// Conn is one live connection to a relay room.
type Conn interface {
	// Send encodes and transmits msg. Safe for concurrent use.
	Send(msg *message.Message) error
	// Recv blocks for the next raw inbound message. Decoding is left to the
	// caller so a malformed message never tears the connection down.
	Recv() ([]byte, error)
	// Close is idempotent and unblocks Recv.
	Close() error
	Kind() Kind
}

// Dialer opens a Conn for a token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// HTTPBaseFromWS derives the relay HTTP base URL from its WebSocket URL:
// ws(s)://host/ws becomes http(s)://host.
func HTTPBaseFromWS(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported ws url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
