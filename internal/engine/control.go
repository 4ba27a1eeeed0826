package engine

import (
	"context"
	"errors"
	"fmt"

	"go.klb.dev/corridor/internal/message"
)

// Handle answers one local control command. It implements ipc.Handler.
func (e *Engine) Handle(_ context.Context, cmd message.Command) message.Reply {
	switch cmd.Op {
	case message.OpCopy:
		err := e.SubmitLocalChange(cmd.Content)
		if err != nil && !errors.Is(err, ErrEcho) {
			return message.Reply{Error: err.Error()}
		}
		return message.Reply{OK: true}

	case message.OpPaste:
		events := e.History()
		items := make([]message.Item, 0, len(events))
		for _, ev := range events {
			items = append(items, message.ItemOf(ev))
		}
		return message.Reply{OK: true, Items: items}

	case message.OpStatus:
		return message.Reply{OK: true, Status: e.Status().Info()}

	case message.OpClear:
		if err := e.RequestClear(); err != nil {
			return message.Reply{Error: err.Error()}
		}
		return message.Reply{OK: true}

	case message.OpRetry:
		e.RetryNow()
		return message.Reply{OK: true}

	default:
		return message.Reply{Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

// Info converts the status to its IPC form.
func (s Status) Info() *message.StatusInfo {
	info := &message.StatusInfo{
		Token:       s.Token,
		State:       s.Stats.State.String(),
		Transport:   string(s.Stats.Transport),
		Attempt:     s.Stats.Attempt,
		ConnectedAt: s.Stats.ConnectedAt,
		LastAlive:   s.Stats.LastAlive,
		RTTMillis:   float64(s.Stats.RTT.Microseconds()) / 1000,
		HistoryLen:  s.HistoryLen,
		Backend:     s.Backend,
	}
	if s.Stats.LastErr != nil {
		info.LastError = s.Stats.LastErr.Error()
	}
	return info
}
