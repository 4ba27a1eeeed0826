package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
)

// onMessage routes one raw message from the relay. Bad input is logged and
// dropped; it never reaches the connection.
func (e *Engine) onMessage(raw []byte) {
	msg, err := message.Decode(raw)
	if err != nil {
		slog.Warn("dropping relay message", "err", err, "bytes", len(raw))
		return
	}

	switch msg.Type {
	case message.TypeHistory:
		e.hist.Replace(msg.Events())
		e.keepAwaiting()
		slog.Debug("history replaced", "items", e.hist.Len())
		e.historyChanged()

	case message.TypeUpdate:
		e.onUpdate(msg.Data.Event())

	case message.TypeClear:
		e.hist.Clear()
		e.awaiting = nil
		slog.Info("history cleared by relay")
		e.historyChanged()

	case message.TypePing:
		if err := e.sess.Send(message.Pong); err != nil {
			slog.Debug("pong not sent", "err", err)
		}

	case message.TypePong:
		// Liveness is tracked by the supervisor.

	case message.TypeError:
		// A refusal is about the change we sent last; stop waiting for it.
		e.awaiting = nil
		e.warn(fmt.Errorf("%w: %s", ErrRelay, msg.ErrorText()))

	default:
		slog.Warn("ignoring unknown relay message", "type", msg.Type)
	}
}

func (e *Engine) onUpdate(ev event.Event) {
	if e.hist.Contains(ev.ID) {
		slog.Debug("duplicate update", "id", ev.ID)
		return
	}
	if ev.Content == e.lastSeen {
		// Our own change coming back, or a value we already applied.
		e.acknowledge(ev)
		return
	}
	if strings.TrimSpace(ev.Content) == "" {
		slog.Warn("ignoring blank update", "id", ev.ID)
		return
	}

	// A local burst still in its debounce window is overwritten on the
	// clipboard by this write.
	e.stopDebounce()
	e.pending = ""
	e.awaiting = nil
	e.lastSeen = ev.Content
	if err := e.clip.Write(ev.Content); err != nil {
		e.warn(err)
	}
	if e.hist.Merge(ev) {
		e.historyChanged()
	}
	slog.Debug("remote change applied", "id", ev.ID, "preview", logging.Preview(ev.Content))
}

// acknowledge records the relay's id and timestamp for a local change it
// echoed back. If a history push dropped the provisional entry in the
// meantime, the echo is merged as the local event instead.
func (e *Engine) acknowledge(ev event.Event) {
	pending := e.awaiting != nil && e.awaiting.Content == ev.Content
	if pending {
		e.awaiting = nil
	}

	changed := e.hist.Acknowledge(ev.Content, ev.ID, ev.Timestamp)
	if !changed && pending {
		ev.Origin = event.OriginLocal
		changed = e.hist.Merge(ev)
	}
	if changed {
		e.historyChanged()
	}
}

// keepAwaiting runs after a history push replaced the store. A local change
// the relay has not stored yet keeps its provisional entry; one the relay
// already holds as newest needs no echo.
func (e *Engine) keepAwaiting() {
	if e.awaiting == nil {
		return
	}
	if newest, ok := e.hist.Newest(); ok && newest.Content == e.awaiting.Content {
		e.awaiting = nil
		return
	}
	e.hist.Merge(*e.awaiting)
}
