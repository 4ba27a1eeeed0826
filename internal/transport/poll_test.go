package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/corridor/internal/message"
)

// fakeRoom is a minimal HTTP relay for one token.
type fakeRoom struct {
	mu       sync.Mutex
	token    string
	items    []message.Item
	next     int
	failing  bool
	refuse   bool
	delay    time.Duration
	encoding []string
}

func (f *fakeRoom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/clipboard/"+f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if f.failing {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodPost && f.refuse {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(message.ErrorResponse{Error: "rate limit exceeded"})
		return
	}
	if r.Method == http.MethodPost && f.delay > 0 {
		f.mu.Unlock()
		time.Sleep(f.delay)
		f.mu.Lock()
	}

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(message.PollResponse{Items: f.items})
	case http.MethodPost:
		f.encoding = append(f.encoding, r.Header.Get("Content-Encoding"))
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Encoding") == "zstd" {
			dec, _ := zstd.NewReader(nil)
			body, _ = dec.DecodeAll(body, nil)
			dec.Close()
		}
		var req message.PushRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Action == message.ActionClear {
			f.items = nil
			_ = json.NewEncoder(w).Encode(message.PushResponse{OK: true})
			return
		}
		f.next++
		it := message.Item{ID: fmt.Sprint("srv-", f.next), Content: req.Content, Timestamp: int64(f.next)}
		f.items = append([]message.Item{it}, f.items...)
		_ = json.NewEncoder(w).Encode(message.PushResponse{OK: true, Item: &it})
	}
}

// publish adds an item as if another device had pushed it.
func (f *fakeRoom) publish(content string) message.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	it := message.Item{ID: fmt.Sprint("srv-", f.next), Content: content, Timestamp: int64(f.next)}
	f.items = append([]message.Item{it}, f.items...)
	return it
}

func (f *fakeRoom) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func recvMsg(t *testing.T, c Conn) *message.Message {
	t.Helper()
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := c.Recv()
		ch <- result{b, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		m, err := message.Decode(r.b)
		require.NoError(t, err)
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// recvUntil skips messages until one matches.
func recvUntil(t *testing.T, c Conn, match func(*message.Message) bool) *message.Message {
	t.Helper()
	for range 20 {
		if m := recvMsg(t, c); match(m) {
			return m
		}
	}
	t.Fatal("no matching message")
	return nil
}

func ofType(typ message.Type) func(*message.Message) bool {
	return func(m *message.Message) bool { return m.Type == typ }
}

func TestAPICompressesLargeBodies(t *testing.T) {
	room := &fakeRoom{token: "good-token"}
	srv := httptest.NewServer(room)
	defer srv.Close()
	api := NewAPI(srv.URL, nil, 5*time.Second)
	ctx := context.Background()

	_, err := api.Push(ctx, "good-token", "small")
	require.NoError(t, err)
	big, err := api.Push(ctx, "good-token", strings.Repeat("x", 2000))
	require.NoError(t, err)
	require.NotNil(t, big)
	assert.Len(t, big.Content, 2000)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, []string{"", "zstd"}, room.encoding)
}

func TestAPIAuthRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeRoom{token: "good-token"})
	defer srv.Close()
	api := NewAPI(srv.URL, nil, 5*time.Second)

	_, err := api.Fetch(context.Background(), "other")
	assert.ErrorIs(t, err, ErrAuthRejected)

	d := &PollingDialer{API: api}
	_, err = d.Dial(context.Background(), "other")
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestPollingConn(t *testing.T) {
	room := &fakeRoom{token: "good-token"}
	srv := httptest.NewServer(room)
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: 20 * time.Millisecond}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, KindPolling, conn.Kind())

	// Initial snapshot, even when empty.
	m := recvMsg(t, conn)
	assert.Equal(t, message.TypeHistory, m.Type)
	assert.Empty(t, m.History)

	// Push is echoed back as an update carrying the relay id, and the next
	// poll sees the changed room.
	require.NoError(t, conn.Send(message.NewUpdate(message.Item{ID: "local", Content: "hello"}.Event())))
	m = recvUntil(t, conn, ofType(message.TypeUpdate))
	assert.Equal(t, "srv-1", m.Data.ID)
	m = recvUntil(t, conn, ofType(message.TypeHistory))
	require.Len(t, m.History, 1)
	assert.Equal(t, "hello", m.History[0].Content)

	// Ping answers with pong.
	require.NoError(t, conn.Send(message.Ping))
	recvUntil(t, conn, ofType(message.TypePong))

	// Clear yields an empty history push.
	require.NoError(t, conn.Send(message.Clear))
	recvUntil(t, conn, func(m *message.Message) bool {
		return m.Type == message.TypeHistory && len(m.History) == 0
	})
}

func TestPollingConnDeliversNewHeadAsUpdate(t *testing.T) {
	room := &fakeRoom{token: "good-token"}
	room.publish("before we connected")
	srv := httptest.NewServer(room)
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: 20 * time.Millisecond}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()

	// The dial snapshot is history only.
	m := recvMsg(t, conn)
	require.Equal(t, message.TypeHistory, m.Type)
	require.Len(t, m.History, 1)

	it := room.publish("from another device")

	m = recvMsg(t, conn)
	require.Equal(t, message.TypeUpdate, m.Type, "new head comes first as an update")
	assert.Equal(t, it.ID, m.Data.ID)
	assert.Equal(t, "from another device", m.Data.Content)

	m = recvMsg(t, conn)
	require.Equal(t, message.TypeHistory, m.Type)
	assert.Len(t, m.History, 2)
}

func TestPollingSendDoesNotWaitForRelay(t *testing.T) {
	room := &fakeRoom{token: "good-token", delay: 300 * time.Millisecond}
	srv := httptest.NewServer(room)
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: time.Hour}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()
	recvMsg(t, conn)

	start := time.Now()
	require.NoError(t, conn.Send(message.NewUpdate(message.Item{ID: "local", Content: "slow"}.Event())))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	m := recvUntil(t, conn, ofType(message.TypeUpdate))
	assert.Equal(t, "slow", m.Data.Content)
}

func TestPollingRefusedPushBecomesError(t *testing.T) {
	room := &fakeRoom{token: "good-token", refuse: true}
	srv := httptest.NewServer(room)
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: time.Hour}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()
	recvMsg(t, conn)

	require.NoError(t, conn.Send(message.NewUpdate(message.Item{ID: "local", Content: "too fast"}.Event())))
	m := recvMsg(t, conn)
	require.Equal(t, message.TypeError, m.Type)
	assert.Equal(t, "rate limit exceeded", m.ErrorText())

	// The conn survives a refusal.
	require.NoError(t, conn.Send(message.Ping))
	recvUntil(t, conn, ofType(message.TypePong))
}

func TestPollingConnFailsOnPollError(t *testing.T) {
	room := &fakeRoom{token: "good-token"}
	srv := httptest.NewServer(room)
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: 20 * time.Millisecond}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	defer conn.Close()
	recvMsg(t, conn)

	room.setFailing(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Recv()
		errCh <- err
	}()
	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrClosed)
		assert.Contains(t, err.Error(), "500")
	case <-time.After(2 * time.Second):
		t.Fatal("expected poll failure")
	}
}

func TestPollingCloseUnblocksRecv(t *testing.T) {
	srv := httptest.NewServer(&fakeRoom{token: "good-token"})
	defer srv.Close()

	d := &PollingDialer{API: NewAPI(srv.URL, nil, 5*time.Second), Interval: time.Hour}
	conn, err := d.Dial(context.Background(), "good-token")
	require.NoError(t, err)
	recvMsg(t, conn)

	require.NoError(t, conn.Close())
	_, err = conn.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Send(message.Ping), ErrClosed)
}
