package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/corridor/internal/clip"
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/supervisor"
)

// newRouterEngine returns an engine that is not running, for calling the
// handlers directly.
func newRouterEngine(t *testing.T, cfg Config) (*Engine, *fakeSession, *clip.Memory) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "team-token"
	}
	sess := newFakeSession()
	mem := clip.NewMemory()
	e, err := New(cfg, sess, mem, nil)
	require.NoError(t, err)
	return e, sess, mem
}

func connect(e *Engine, sess *fakeSession) {
	sess.mu.Lock()
	sess.state = supervisor.Connected
	sess.mu.Unlock()
	e.state = supervisor.Connected
}

func update(id, content string, ts int64) []byte {
	return fmt.Appendf(nil, `{"type":"clipboard_update","data":{"id":%q,"content":%q,"timestamp":%d}}`, id, content, ts)
}

func ids(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func drain(ch <-chan Notification) []Notification {
	var out []Notification
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestHistoryPushReplacesInOrder(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{})
	e.hist.Merge(event.NewLocal("stale"))

	e.onMessage([]byte(`{"type":"clipboard_history","history":[
		{"id":"A","content":"a","timestamp":300},
		{"id":"B","content":"b","timestamp":200},
		{"id":"C","content":"c","timestamp":100}]}`))

	items := e.History()
	assert.Equal(t, []string{"A", "B", "C"}, ids(items))
	for _, it := range items {
		assert.Equal(t, event.OriginRemote, it.Origin)
	}
}

func TestEmptyHistoryPushClears(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{})
	e.hist.Merge(event.NewLocal("stale"))

	e.onMessage([]byte(`{"type":"clipboard_history","history":[]}`))
	assert.Zero(t, e.hist.Len())
}

func TestUpdateIsIdempotent(t *testing.T) {
	e, _, mem := newRouterEngine(t, Config{})

	e.onMessage(update("X", "from phone", 10))
	e.onMessage(update("X", "from phone", 10))

	assert.Equal(t, 1, e.hist.Len())
	assert.Equal(t, []string{"from phone"}, mem.Writes())
	assert.Equal(t, "from phone", e.lastSeen)
}

func TestEchoIsSuppressed(t *testing.T) {
	e, _, mem := newRouterEngine(t, Config{})
	e.lastSeen = "hello"
	notes, _ := e.Subscribe()

	e.onMessage(update("E", "hello", 10))

	assert.Empty(t, mem.Writes())
	assert.Zero(t, e.hist.Len())
	assert.Empty(t, drain(notes))
}

func TestOwnUpdateIsAcknowledged(t *testing.T) {
	e, sess, mem := newRouterEngine(t, Config{})
	connect(e, sess)

	e.lastSeen = "copied here"
	e.accept("copied here")
	require.Equal(t, []string{"copied here"}, sess.updates())
	local := e.History()
	require.Len(t, local, 1)
	assert.True(t, local[0].Provisional())

	e.onMessage(update("srv-1", "copied here", 1234))

	items := e.History()
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, int64(1234), items[0].Timestamp)
	assert.Equal(t, event.OriginLocal, items[0].Origin)
	assert.Empty(t, mem.Writes(), "echo is never written back")
}

func TestCapacityBound(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{HistoryCap: 5})

	for i := range 200 {
		id := fmt.Sprintf("id-%d", rand.IntN(40))
		e.onMessage(update(id, fmt.Sprintf("content %d", i), int64(i)))
		require.LessOrEqual(t, e.hist.Len(), 5)
	}
}

func TestMalformedMessagesAreIgnored(t *testing.T) {
	e, sess, _ := newRouterEngine(t, Config{})
	connect(e, sess)

	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"type":"clipboard_update"}`,
		`{"type":"something_new","data":1}`,
		`{"type":"clipboard_history","history":"oops"}`,
	} {
		assert.NotPanics(t, func() { e.onMessage([]byte(raw)) }, raw)
	}
	assert.Zero(t, e.hist.Len())
	assert.Equal(t, supervisor.Connected, e.state)
}

func TestPingIsAnswered(t *testing.T) {
	e, sess, _ := newRouterEngine(t, Config{})
	connect(e, sess)

	e.onMessage([]byte(`{"type":"ping"}`))
	assert.Equal(t, 1, sess.count(message.TypePong))
}

func TestRelayErrorsBecomeWarnings(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{})
	notes, _ := e.Subscribe()

	e.onMessage([]byte(`{"type":"error","message":"rate limited"}`))
	e.onMessage([]byte(`{"type":"error","error":"legacy text"}`))

	got := drain(notes)
	require.Len(t, got, 2)
	for i, want := range []string{"rate limited", "legacy text"} {
		w, ok := got[i].(Warning)
		require.True(t, ok)
		assert.ErrorIs(t, w.Err, ErrRelay)
		assert.Contains(t, w.Err.Error(), want)
	}
}

func TestPermissionDeniedStillRecordsHistory(t *testing.T) {
	e, _, mem := newRouterEngine(t, Config{})
	mem.Deny(true)
	notes, _ := e.Subscribe()

	e.onMessage(update("P", "secret", 10))

	assert.Equal(t, 1, e.hist.Len())
	var warned bool
	for _, n := range drain(notes) {
		if w, ok := n.(Warning); ok && errors.Is(w.Err, clip.ErrPermissionDenied) {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestRelayClear(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{})
	e.onMessage(update("A", "a", 1))
	require.Equal(t, 1, e.hist.Len())

	e.onMessage([]byte(`{"type":"clear_history"}`))
	assert.Zero(t, e.hist.Len())
}

func TestFilterOrder(t *testing.T) {
	e, _, _ := newRouterEngine(t, Config{MaxContentLen: 4})
	e.lastSeen = "same"

	assert.ErrorIs(t, e.check("   \n"), ErrBlank)
	assert.ErrorIs(t, e.check("same"), ErrEcho)
	assert.ErrorIs(t, e.check("toolong"), ErrOversized)
	assert.NoError(t, e.check("ok"))
}

func TestConfigValidate(t *testing.T) {
	c := Config{Token: "abc"}
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultMaxContentLen, c.MaxContentLen)
	assert.Equal(t, DefaultDebounce, c.Debounce)

	c = Config{Token: "ab"}
	assert.ErrorIs(t, c.Validate(), ErrInvalidToken)
}

func TestOfflineChangeSurvivesEarlierHistoryPush(t *testing.T) {
	e, sess, mem := newRouterEngine(t, Config{})

	e.lastSeen = "offline copy"
	e.accept("offline copy")
	require.Empty(t, sess.messages())

	connect(e, sess)
	e.flushHeld()
	require.Equal(t, []string{"offline copy"}, sess.updates())

	// The relay answers with the room as it was before our update landed.
	e.onMessage([]byte(`{"type":"clipboard_history","history":[{"id":"OLD","content":"old","timestamp":1}]}`))
	require.Equal(t, 2, e.hist.Len(), "the change stays listed while in flight")

	e.onMessage(update("S1", "offline copy", 2))

	items := e.History()
	assert.Equal(t, []string{"S1", "OLD"}, ids(items))
	assert.Equal(t, event.OriginLocal, items[0].Origin)
	assert.Empty(t, mem.Writes())
	assert.Nil(t, e.awaiting)
}

func TestEchoRestoresDroppedProvisionalEntry(t *testing.T) {
	e, sess, mem := newRouterEngine(t, Config{})
	connect(e, sess)

	e.lastSeen = "mine"
	e.accept("mine")
	e.hist.Replace(nil)

	e.onMessage(update("S1", "mine", 2))

	items := e.History()
	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ID)
	assert.Equal(t, event.OriginLocal, items[0].Origin)
	assert.Empty(t, mem.Writes())

	// Without a pending change, the same content is just an echo.
	e.onMessage(update("S2", "mine", 3))
	assert.Equal(t, []string{"S1"}, ids(e.History()))
}

func TestUnacknowledgedChangeResentOnReconnect(t *testing.T) {
	e, sess, _ := newRouterEngine(t, Config{})
	connect(e, sess)

	e.lastSeen = "x"
	e.accept("x")
	require.Equal(t, []string{"x"}, sess.updates())

	// The link drops before the echo arrives.
	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Disconnected})
	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Connected})
	assert.Equal(t, []string{"x", "x"}, sess.updates())

	// The relay had stored it after all.
	e.onMessage([]byte(`{"type":"clipboard_history","history":[{"id":"S1","content":"x","timestamp":5}]}`))
	assert.Nil(t, e.awaiting)
	e.onMessage(update("S1", "x", 5))
	assert.Equal(t, []string{"S1"}, ids(e.History()))

	// Acknowledged changes are not sent again.
	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Disconnected})
	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Connected})
	assert.Equal(t, []string{"x", "x"}, sess.updates())
}

func TestRefusedChangeIsNotResent(t *testing.T) {
	e, sess, _ := newRouterEngine(t, Config{})
	connect(e, sess)

	e.lastSeen = "x"
	e.accept("x")
	e.onMessage([]byte(`{"type":"error","message":"rate limit exceeded"}`))

	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Disconnected})
	e.onState(supervisor.Event{Kind: supervisor.EventState, State: supervisor.Connected})
	assert.Equal(t, []string{"x"}, sess.updates())
}
