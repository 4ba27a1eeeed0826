package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/corridor/internal/message"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// echoRelay accepts token "good-token", sends an empty history and echoes
// every frame back. Token "kick-token" is accepted then closed with a policy
// violation.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token != "good-token" && token != "kick-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if token == "kick-token" {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token revoked"),
				time.Now().Add(time.Second))
			return
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"clipboard_history","history":[]}`))
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebSocketDialSendRecv(t *testing.T) {
	srv := echoRelay(t)
	d := &WebSocketDialer{URL: wsURL(srv)}

	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, KindWebSocket, conn.Kind())

	first, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, message.TypeHistory, message.PeekType(first))

	require.NoError(t, conn.Send(message.Ping))
	echoed, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, message.TypePing, message.PeekType(echoed))
}

func TestWebSocketAuthRejected(t *testing.T) {
	srv := echoRelay(t)
	d := &WebSocketDialer{URL: wsURL(srv)}

	_, err := d.Dial(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestWebSocketPolicyCloseIsAuthRejection(t *testing.T) {
	srv := echoRelay(t)
	d := &WebSocketDialer{URL: wsURL(srv)}

	conn, err := d.Dial(context.Background(), "kick-token")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Recv()
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestWebSocketCloseUnblocksRecv(t *testing.T) {
	srv := echoRelay(t)
	d := &WebSocketDialer{URL: wsURL(srv)}

	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	_, err = conn.Recv() // initial history
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Recv()
		errCh <- err
	}()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock")
	}
}

func TestDialUnreachable(t *testing.T) {
	d := &WebSocketDialer{URL: "ws://127.0.0.1:1/ws", HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "good-token")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthRejected)
}

func TestHTTPBaseFromWS(t *testing.T) {
	for in, want := range map[string]string{
		"ws://relay.local:8080/ws":  "http://relay.local:8080",
		"wss://relay.example/ws/":   "https://relay.example",
		"wss://relay.example/sync":  "https://relay.example/sync",
		"http://relay.local/ws?x=1": "http://relay.local",
	} {
		got, err := HTTPBaseFromWS(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := HTTPBaseFromWS("ftp://relay")
	assert.Error(t, err)
}
