// Package engine runs one clipboard sync session: it watches the local
// clipboard, filters and debounces changes, dispatches them through the
// connection supervisor and applies what the relay sends back.
//
// Everything that mutates the session (last seen content, history, pending
// timers) runs on the goroutine executing Run. Other goroutines talk to it
// through channels.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/corridor/internal/clip"
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/history"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/supervisor"
)

var (
	ErrInvalidToken = supervisor.ErrInvalidToken
	ErrBlank        = errors.New("content is blank")
	ErrEcho         = errors.New("content unchanged")
	ErrOversized    = errors.New("content too large")
	ErrRelay        = errors.New("relay error")
	ErrStopped      = errors.New("engine not running")
)

// Session is the connection the engine dispatches through.
// *supervisor.Supervisor implements it.
type Session interface {
	Connect(token string) error
	Disconnect()
	RetryNow()
	Send(msg *message.Message) error
	Events() <-chan supervisor.Event
	Stats() supervisor.Stats
	Run(ctx context.Context) error
}

var _ Session = (*supervisor.Supervisor)(nil)

// Status is a snapshot of the session for display.
type Status struct {
	Token      string
	Stats      supervisor.Stats
	HistoryLen int
	Backend    string
}

type request struct {
	fn    func() error
	reply chan error
}

// Engine is one sync session. Create with New, start with Run.
type Engine struct {
	cfg     Config
	sess    Session
	clip    clip.Accessor
	hist    *history.Store
	persist *history.Persistence

	reqs chan request
	done chan struct{}

	subMu      sync.Mutex
	subs       map[int]chan Notification
	nextSub    int
	subsClosed bool

	// Owned by the Run goroutine.
	ctx       context.Context
	state     supervisor.State
	lastSeen  string
	pending   string
	debounce  *time.Timer
	debounceC <-chan time.Time
	held      *event.Event
	// awaiting is the newest local event the relay has not echoed back yet.
	awaiting *event.Event
}

// New builds an engine. persist may be nil for an in-memory history.
func New(cfg Config, sess Session, acc clip.Accessor, persist *history.Persistence) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sess == nil || acc == nil {
		return nil, errors.New("engine: session and clipboard are required")
	}
	return &Engine{
		cfg:     cfg,
		sess:    sess,
		clip:    acc,
		hist:    history.New(cfg.HistoryCap),
		persist: persist,
		reqs:    make(chan request),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Notification),
		ctx:     context.Background(),
	}, nil
}

// Run connects the session and processes clipboard changes, relay messages
// and caller requests until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.ctx = ctx

	e.load()
	if cur, err := e.clip.Read(); err == nil {
		// Whatever is on the clipboard at startup is not a new copy.
		e.lastSeen = cur
	} else {
		slog.Warn("initial clipboard read failed", "err", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.sess.Run(sessCtx); err != nil {
			slog.Error("session stopped", "err", err)
		}
	}()
	defer func() {
		e.sess.Disconnect()
		cancel()
		wg.Wait()
		e.stopDebounce()
		e.closeSubscribers()
	}()

	if err := e.sess.Connect(e.cfg.Token); err != nil {
		return err
	}
	slog.Info("sync engine started",
		"token", logging.RedactToken(e.cfg.Token),
		"clipboard", e.clip.Name(),
		"history", e.hist.Len(),
	)

	events := e.sess.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopped")
			return nil
		case ev := <-events:
			switch ev.Kind {
			case supervisor.EventState:
				e.onState(ev)
			case supervisor.EventMessage:
				e.onMessage(ev.Data)
			}
		case <-e.clip.Watch():
			e.onWatch()
		case <-e.debounceC:
			e.onDebounceFired()
		case r := <-e.reqs:
			r.reply <- r.fn()
		}
	}
}

// do runs fn on the Run goroutine and returns its result.
func (e *Engine) do(fn func() error) error {
	r := request{fn: fn, reply: make(chan error, 1)}
	select {
	case e.reqs <- r:
	case <-e.done:
		return ErrStopped
	}
	return <-r.reply
}

// SubmitLocalChange publishes content as if it had been copied on this
// device, skipping the debounce window. The content is also written to the
// local clipboard.
func (e *Engine) SubmitLocalChange(content string) error {
	return e.do(func() error {
		if err := e.check(content); err != nil {
			if errors.Is(err, ErrOversized) {
				e.warn(err)
			}
			return err
		}
		e.stopDebounce()
		e.pending = ""
		e.lastSeen = content
		if err := e.clip.Write(content); err != nil {
			e.warn(err)
		}
		e.accept(content)
		return nil
	})
}

// RequestClear empties the history right away and asks the relay to do the
// same. The next full-history push from the relay is authoritative.
func (e *Engine) RequestClear() error {
	return e.do(func() error {
		e.hist.Clear()
		e.awaiting = nil
		e.historyChanged()
		if !e.state.Active() {
			slog.Info("history cleared locally, relay not connected")
			return nil
		}
		if err := e.sess.Send(message.Clear); err != nil {
			slog.Warn("clear not sent", "err", err)
		}
		return nil
	})
}

// RetryNow bypasses any pending reconnect delay.
func (e *Engine) RetryNow() { e.sess.RetryNow() }

// History returns the current history, newest first.
func (e *Engine) History() []event.Event { return e.hist.Items() }

// Status is safe to call from any goroutine.
func (e *Engine) Status() Status {
	return Status{
		Token:      logging.RedactToken(e.cfg.Token),
		Stats:      e.sess.Stats(),
		HistoryLen: e.hist.Len(),
		Backend:    e.clip.Name(),
	}
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription. Slow subscribers lose notifications rather than stalling the
// engine. The channel is closed on unsubscribe or when Run returns.
func (e *Engine) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 32)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	return ch, func() { e.unsubscribe(id) }
}

func (e *Engine) unsubscribe(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subsClosed = true
}

func (e *Engine) notify(n Notification) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- n:
		default:
			slog.Warn("subscriber channel full, dropping notification")
		}
	}
}

func (e *Engine) warn(err error) {
	slog.Warn("sync warning", "err", err)
	e.notify(Warning{Err: err})
}

func (e *Engine) historyChanged() {
	items := e.hist.Items()
	e.notify(HistoryChanged{Items: items})
	e.save(items)
}

func (e *Engine) onState(ev supervisor.Event) {
	prev := e.state
	e.state = ev.State
	e.notify(StateChanged{State: ev.State, Err: ev.Err})

	if !ev.State.Active() || prev == ev.State {
		return
	}
	if err := e.sess.Send(message.NewHistoryRequest()); err != nil {
		slog.Warn("history request not sent", "err", err)
	}
	e.flushHeld()
}

func (e *Engine) load() {
	if e.persist == nil {
		return
	}
	events, err := e.persist.Load(e.ctx)
	if err != nil {
		slog.Warn("saved history unavailable", "err", err)
		return
	}
	e.hist.Replace(events)
	slog.Debug("history restored", "items", e.hist.Len())
}

func (e *Engine) save(items []event.Event) {
	if e.persist == nil {
		return
	}
	if err := e.persist.Save(e.ctx, items); err != nil {
		slog.Warn("history not saved", "err", err)
	}
}
