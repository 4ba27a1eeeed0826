package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/transport"
)

func newRelay(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server, token string) transport.Conn {
	t.Helper()
	d := &transport.WebSocketDialer{URL: wsURL(ts)}
	c, err := d.Dial(context.Background(), token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recv reads the next message, failing the test after a timeout.
func recv(t *testing.T, c transport.Conn) *message.Message {
	t.Helper()
	type result struct {
		raw []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := c.Recv()
		ch <- result{raw, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		m, err := message.Decode(r.raw)
		require.NoError(t, err)
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay message")
		return nil
	}
}

func TestHealth(t *testing.T) {
	_, ts := newRelay(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestWebSocketRejectsBadTokens(t *testing.T) {
	_, ts := newRelay(t, Config{AllowedTokens: []string{"team-token"}})
	d := &transport.WebSocketDialer{URL: wsURL(ts)}

	_, err := d.Dial(context.Background(), "ab")
	assert.ErrorIs(t, err, transport.ErrAuthRejected)

	_, err = d.Dial(context.Background(), "someone-else")
	assert.ErrorIs(t, err, transport.ErrAuthRejected)

	c, err := d.Dial(context.Background(), "team-token")
	require.NoError(t, err)
	_ = c.Close()
}

func TestWebSocketRoom(t *testing.T) {
	_, ts := newRelay(t, Config{})

	a := dial(t, ts, "team-token")
	b := dial(t, ts, "team-token")
	other := dial(t, ts, "other-token")
	for _, c := range []transport.Conn{a, b, other} {
		m := recv(t, c)
		assert.Equal(t, message.TypeHistory, m.Type)
		assert.Empty(t, m.History)
	}

	require.NoError(t, a.Send(message.NewUpdate(event.NewLocal("hello"))))

	for _, c := range []transport.Conn{a, b} {
		m := recv(t, c)
		require.Equal(t, message.TypeUpdate, m.Type)
		assert.Equal(t, "hello", m.Data.Content)
		assert.NotEmpty(t, m.Data.ID)
		assert.Positive(t, m.Data.Timestamp)
	}

	// The other room only hears its own pong.
	require.NoError(t, other.Send(message.Ping))
	assert.Equal(t, message.TypePong, recv(t, other).Type)
}

func TestWebSocketHistoryAndClear(t *testing.T) {
	_, ts := newRelay(t, Config{})
	c := dial(t, ts, "team-token")
	recv(t, c)

	require.NoError(t, c.Send(message.NewUpdate(event.NewLocal("one"))))
	recv(t, c)

	require.NoError(t, c.Send(message.NewHistoryRequest()))
	m := recv(t, c)
	require.Equal(t, message.TypeHistory, m.Type)
	require.Len(t, m.History, 1)
	assert.Equal(t, "one", m.History[0].Content)

	require.NoError(t, c.Send(message.Clear))
	m = recv(t, c)
	assert.Equal(t, message.TypeHistory, m.Type)
	assert.NotNil(t, m.History)
	assert.Empty(t, m.History)
}

func TestWebSocketErrors(t *testing.T) {
	_, ts := newRelay(t, Config{MaxContentLen: 5})
	c := dial(t, ts, "team-token")
	recv(t, c)

	require.NoError(t, c.Send(&message.Message{Type: "dance"}))
	m := recv(t, c)
	assert.Equal(t, message.TypeError, m.Type)
	assert.Contains(t, m.ErrorText(), "unknown message type")

	require.NoError(t, c.Send(message.NewUpdate(event.NewLocal("far too long"))))
	m = recv(t, c)
	assert.Equal(t, message.TypeError, m.Type)
	assert.Contains(t, m.ErrorText(), "exceeds")
}

func TestHTTPPushPollClear(t *testing.T) {
	_, ts := newRelay(t, Config{})
	api := transport.NewAPI(ts.URL, nil, 5*time.Second)
	ctx := context.Background()

	it, err := api.Push(ctx, "team-token", "over http")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "over http", it.Content)

	big := strings.Repeat("z", 5000)
	_, err = api.Push(ctx, "team-token", big)
	require.NoError(t, err, "compressed bodies are accepted")

	items, err := api.Fetch(ctx, "team-token")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, big, items[0].Content)
	assert.Equal(t, it.ID, items[1].ID)

	require.NoError(t, api.Clear(ctx, "team-token"))
	items, err = api.Fetch(ctx, "team-token")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHTTPRejections(t *testing.T) {
	_, ts := newRelay(t, Config{MaxContentLen: 10, RatePerSecond: 0.001, RateBurst: 2})
	api := transport.NewAPI(ts.URL, nil, 5*time.Second)
	ctx := context.Background()

	_, err := api.Fetch(ctx, "ab")
	assert.ErrorIs(t, err, transport.ErrAuthRejected)

	_, err = api.Push(ctx, "team-token", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = api.Push(ctx, "team-token", "more than ten bytes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "413")

	for range 2 {
		_, err = api.Push(ctx, "team-token", "ok")
		require.NoError(t, err)
	}
	_, err = api.Push(ctx, "team-token", "ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestWebSocketSeesHTTPPush(t *testing.T) {
	_, ts := newRelay(t, Config{})
	c := dial(t, ts, "team-token")
	recv(t, c)

	api := transport.NewAPI(ts.URL, nil, 5*time.Second)
	_, err := api.Push(context.Background(), "team-token", "from a browser tab")
	require.NoError(t, err)

	m := recv(t, c)
	require.Equal(t, message.TypeUpdate, m.Type)
	assert.Equal(t, "from a browser tab", m.Data.Content)
}
