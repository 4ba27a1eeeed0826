package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.klb.dev/corridor/internal/clip"
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
)

// onWatch reads the clipboard after a change signal.
func (e *Engine) onWatch() {
	content, err := e.clip.Read()
	if err != nil {
		if errors.Is(err, clip.ErrPermissionDenied) {
			e.warn(err)
			return
		}
		slog.Error("clipboard read failed", "err", err)
		return
	}
	e.onLocalChange(content)
}

// onLocalChange restarts the debounce window with the latest content.
func (e *Engine) onLocalChange(content string) {
	e.pending = content
	e.stopDebounce()
	e.debounce = time.NewTimer(e.cfg.Debounce)
	e.debounceC = e.debounce.C
}

func (e *Engine) stopDebounce() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceC = nil
}

// onDebounceFired filters the last content seen in the burst and dispatches
// it if it passes.
func (e *Engine) onDebounceFired() {
	e.debounce = nil
	e.debounceC = nil
	content := e.pending
	e.pending = ""

	if err := e.check(content); err != nil {
		if errors.Is(err, ErrOversized) {
			e.warn(err)
			return
		}
		slog.Debug("local change skipped", "reason", err)
		return
	}
	e.lastSeen = content
	e.accept(content)
}

// check applies the filters in order: blank, echo, size.
func (e *Engine) check(content string) error {
	switch {
	case strings.TrimSpace(content) == "":
		return ErrBlank
	case content == e.lastSeen:
		return ErrEcho
	case len(content) > e.cfg.MaxContentLen:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrOversized, len(content), e.cfg.MaxContentLen)
	}
	return nil
}

// accept records a local event provisionally and dispatches it.
func (e *Engine) accept(content string) {
	ev := event.NewLocal(content)
	e.awaiting = &ev
	if e.hist.Merge(ev) {
		e.historyChanged()
	}
	slog.Debug("local change", "id", ev.ID, "preview", logging.Preview(content))
	e.dispatch(ev)
}

// dispatch sends ev if the session is active. Otherwise it is held as the
// single latest event to send once the session comes back.
func (e *Engine) dispatch(ev event.Event) {
	if !e.state.Active() {
		slog.Debug("not connected, holding latest change", "state", e.state)
		e.held = &ev
		return
	}
	if err := e.sess.Send(message.NewUpdate(ev)); err != nil {
		slog.Warn("update not sent, holding for reconnect", "err", err)
		e.held = &ev
		return
	}
	e.held = nil
}

// flushHeld sends the held event if it is still the current clipboard value.
// Without one, a change sent before the link dropped and never echoed is
// sent again.
func (e *Engine) flushHeld() {
	ev := e.held
	e.held = nil
	if ev == nil {
		ev = e.awaiting
	}
	if ev == nil {
		return
	}
	if ev.Content != e.lastSeen {
		slog.Debug("held change superseded, dropping", "id", ev.ID)
		return
	}
	slog.Info("sending change made while offline", "id", ev.ID)
	e.dispatch(*ev)
}
