// Package supervisor owns the transport lifecycle of one sync session:
// connect, reconnect with capped exponential backoff, fall back to HTTP
// polling under sustained failure, probe back to the WebSocket, and keep the
// link alive with pings and a watchdog.
//
// All state transitions happen on the goroutine running Run. Dials and reads
// run in helper goroutines that report back over channels tagged with a
// connection generation; results from an older generation are dropped, which
// makes cancellation race-free.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/transport"
)

// EventKind distinguishes state changes from inbound messages.
type EventKind int

const (
	EventState EventKind = iota
	EventMessage
)

// Event is delivered in order on the Events channel.
type Event struct {
	Kind      EventKind
	State     State
	Err       error
	Transport transport.Kind
	// Data is the raw inbound message for EventMessage.
	Data []byte
}

// Stats is a point-in-time view of the connection.
type Stats struct {
	State       State
	Attempt     int
	Transport   transport.Kind
	ConnectedAt time.Time
	LastAlive   time.Time
	RTT         time.Duration
	LastErr     error
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdRetry
)

type command struct {
	kind  cmdKind
	token string
}

type dialResult struct {
	gen      uint64
	conn     transport.Conn
	err      error
	fallback bool
	probe    bool
}

type recvResult struct {
	gen  uint64
	data []byte
	err  error
}

// Supervisor drives one connection. Create with New, start with Run.
type Supervisor struct {
	cfg      Config
	primary  transport.Dialer
	fallback transport.Dialer
	monitor  *Monitor

	cmds   chan command
	events chan Event
	dialed chan dialResult
	recvd  chan recvResult
	done   chan struct{}

	// Guarded by mu: written only by the Run goroutine, read by anyone.
	mu          sync.RWMutex
	state       State
	attempt     int
	conn        transport.Conn
	kind        transport.Kind
	connectedAt time.Time
	lastAlive   time.Time
	lastErr     error

	// Owned by the Run goroutine.
	token      string
	gen        uint64
	dialing    bool
	dialCancel context.CancelFunc
	probing    bool
	retry      *time.Timer
	retryC     <-chan time.Time
	pingSent   time.Time
	queue      []Event
}

// New returns a Supervisor dialing primary, and fallback (may be nil) when
// primary keeps failing.
func New(cfg Config, primary, fallback transport.Dialer) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, errors.New("supervisor: primary dialer required")
	}
	return &Supervisor{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		monitor:  NewMonitor(5),
		cmds:     make(chan command, 16),
		events:   make(chan Event, 64),
		dialed:   make(chan dialResult),
		recvd:    make(chan recvResult),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the ordered stream of state changes and inbound messages.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Connect starts (or restarts) a session for token. It returns immediately;
// progress is reported on Events.
func (s *Supervisor) Connect(token string) error {
	if n := utf8.RuneCountInString(token); n < s.cfg.MinTokenLen {
		return fmt.Errorf("%w: need at least %d characters, got %d", ErrInvalidToken, s.cfg.MinTokenLen, n)
	}
	s.enqueue(command{kind: cmdConnect, token: token})
	return nil
}

// Disconnect closes the transport and cancels pending retries. Idempotent.
func (s *Supervisor) Disconnect() { s.enqueue(command{kind: cmdDisconnect}) }

// RetryNow bypasses any pending backoff and dials immediately, also after
// automatic retries are exhausted. Ignored in the Error state.
func (s *Supervisor) RetryNow() { s.enqueue(command{kind: cmdRetry}) }

func (s *Supervisor) enqueue(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

// Send transmits msg on the active transport.
func (s *Supervisor) Send(msg *message.Message) error {
	s.mu.RLock()
	c, st := s.conn, s.state
	s.mu.RUnlock()
	if c == nil || !st.Active() {
		return ErrNotConnected
	}
	return c.Send(msg)
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempt returns the current reconnect attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

// Stats returns a snapshot of the connection.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		State:       s.state,
		Attempt:     s.attempt,
		Transport:   s.kind,
		ConnectedAt: s.connectedAt,
		LastAlive:   s.lastAlive,
		RTT:         s.monitor.Avg(),
		LastErr:     s.lastErr,
	}
}

// Run processes commands, dial results, inbound messages and timers until
// ctx is cancelled, then closes the transport.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.teardown()

	pingT := time.NewTicker(s.cfg.PingInterval)
	defer pingT.Stop()
	watchT := time.NewTicker(min(5*time.Second, s.cfg.Watchdog/3))
	defer watchT.Stop()
	probeT := time.NewTicker(s.cfg.ProbeInterval)
	defer probeT.Stop()

	for {
		var out chan<- Event
		var next Event
		if len(s.queue) > 0 {
			out = s.events
			next = s.queue[0]
		}

		select {
		case <-ctx.Done():
			return nil
		case out <- next:
			s.queue = s.queue[1:]
		case c := <-s.cmds:
			s.handle(ctx, c)
		case r := <-s.dialed:
			s.onDialed(ctx, r)
		case r := <-s.recvd:
			s.onRecv(r)
		case <-s.retryC:
			s.retryC = nil
			s.retry = nil
			s.startDial(ctx, false)
		case <-pingT.C:
			s.ping()
		case <-watchT.C:
			s.checkWatchdog()
		case <-probeT.C:
			s.probe(ctx)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, c command) {
	switch c.kind {
	case cmdConnect:
		slog.Info("connecting", "token", logging.RedactToken(c.token))
		s.reset()
		s.token = c.token
		s.setAttempt(0)
		s.setLastErr(nil)
		s.startDial(ctx, false)

	case cmdDisconnect:
		s.reset()
		s.token = ""
		s.setState(Disconnected, nil)

	case cmdRetry:
		st := s.State()
		switch {
		case s.token == "":
			slog.Debug("retry ignored, no session")
		case st == Error:
			slog.Info("retry ignored, session needs a new connect", "err", s.Stats().LastErr)
		case s.dialing || s.currentConn() != nil:
			slog.Debug("retry ignored, already connecting or connected", "state", st)
		default:
			slog.Info("manual retry", "attempt", s.Attempt())
			s.stopRetry()
			s.startDial(ctx, false)
		}
	}
}

// startDial dials the primary (or fallback) transport in the background.
func (s *Supervisor) startDial(ctx context.Context, useFallback bool) {
	d := s.primary
	if useFallback {
		d = s.fallback
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	s.dialCancel = cancel
	s.dialing = true
	gen, token := s.gen, s.token

	go func() {
		c, err := d.Dial(dctx, token)
		cancel()
		select {
		case s.dialed <- dialResult{gen: gen, conn: c, err: err, fallback: useFallback}:
		case <-s.done:
			if c != nil {
				_ = c.Close()
			}
		}
	}()
	s.setState(Connecting, nil)
}

func (s *Supervisor) onDialed(ctx context.Context, r dialResult) {
	if r.probe {
		s.onProbed(r)
		return
	}
	if r.gen != s.gen {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}
	s.dialing = false
	s.dialCancel = nil

	if r.err != nil {
		if errors.Is(r.err, transport.ErrAuthRejected) {
			s.terminal(r.err)
			return
		}
		if !r.fallback && s.fallback != nil && s.Attempt() >= s.cfg.FallbackAfter {
			slog.Warn("websocket unavailable, falling back to polling", "err", r.err, "failures", s.Attempt())
			s.startDial(ctx, true)
			return
		}
		s.onFailure(r.err)
		return
	}
	s.adopt(r.conn)
}

// adopt makes c the active transport.
func (s *Supervisor) adopt(c transport.Conn) {
	s.gen++
	gen := s.gen
	now := time.Now()

	s.mu.Lock()
	s.conn = c
	s.kind = c.Kind()
	s.attempt = 0
	s.connectedAt = now
	s.lastAlive = now
	s.lastErr = nil
	s.mu.Unlock()

	go s.readLoop(gen, c)

	st := Connected
	if c.Kind() == transport.KindPolling {
		st = DegradedFallback
	}
	slog.Info("connected", "transport", c.Kind())
	s.setState(st, nil)
}

func (s *Supervisor) readLoop(gen uint64, c transport.Conn) {
	for {
		data, err := c.Recv()
		select {
		case s.recvd <- recvResult{gen: gen, data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) onRecv(r recvResult) {
	if r.gen != s.gen {
		return
	}
	if r.err != nil {
		if errors.Is(r.err, transport.ErrAuthRejected) {
			s.terminal(r.err)
			return
		}
		s.onFailure(r.err)
		return
	}

	s.mu.Lock()
	s.lastAlive = time.Now()
	st, kind := s.state, s.kind
	s.mu.Unlock()

	if message.PeekType(r.data) == message.TypePong && !s.pingSent.IsZero() {
		s.monitor.Add(time.Since(s.pingSent))
		s.pingSent = time.Time{}
	}
	s.emit(Event{Kind: EventMessage, State: st, Transport: kind, Data: r.data})
}

// onFailure drops the transport and schedules the next attempt, or gives up
// once MaxAttempts retries have been scheduled.
func (s *Supervisor) onFailure(err error) {
	s.dropConn()
	s.setLastErr(err)

	attempt := s.Attempt()
	if attempt >= s.cfg.MaxAttempts {
		slog.Warn("reconnect attempts exhausted, waiting for manual retry", "err", err, "attempts", attempt)
		s.setState(Disconnected, fmt.Errorf("%w: %w", ErrRetriesExhausted, err))
		return
	}

	delay := Delay(attempt, s.cfg.BaseDelay, s.cfg.MaxDelay)
	s.setAttempt(attempt + 1)
	slog.Warn("connection failed", "err", err, "retry_in", delay, "attempt", attempt+1)

	s.stopRetry()
	s.retry = time.NewTimer(delay)
	s.retryC = s.retry.C
	s.setState(Disconnected, err)
}

func (s *Supervisor) terminal(err error) {
	slog.Error("relay rejected the session", "err", err)
	s.reset()
	s.setLastErr(err)
	s.setState(Error, err)
}

func (s *Supervisor) ping() {
	c := s.currentConn()
	if c == nil || !s.State().Active() {
		return
	}
	s.pingSent = time.Now()
	go func() {
		if err := c.Send(message.Ping); err != nil {
			slog.Debug("ping failed", "err", err)
		}
	}()
}

func (s *Supervisor) checkWatchdog() {
	if s.currentConn() == nil {
		return
	}
	s.mu.RLock()
	age := time.Since(s.lastAlive)
	s.mu.RUnlock()
	if age > s.cfg.Watchdog {
		slog.Warn("watchdog: relay silent too long, closing", "silent_for", age.Round(time.Second))
		s.onFailure(ErrWatchdog)
	}
}

// probe retries the WebSocket while the polling transport is active.
func (s *Supervisor) probe(ctx context.Context) {
	if s.State() != DegradedFallback || s.probing {
		return
	}
	s.probing = true
	gen, token := s.gen, s.token
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)

	go func() {
		c, err := s.primary.Dial(dctx, token)
		cancel()
		select {
		case s.dialed <- dialResult{gen: gen, conn: c, err: err, probe: true}:
		case <-s.done:
			if c != nil {
				_ = c.Close()
			}
		}
	}()
}

func (s *Supervisor) onProbed(r dialResult) {
	s.probing = false
	if r.gen != s.gen || s.State() != DegradedFallback {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}
	if r.err != nil {
		if errors.Is(r.err, transport.ErrAuthRejected) {
			s.terminal(r.err)
			return
		}
		slog.Debug("websocket probe failed, staying on polling", "err", r.err)
		return
	}
	slog.Info("websocket restored, leaving fallback")
	s.dropConn()
	s.adopt(r.conn)
}

// reset cancels timers and dials and closes the transport.
func (s *Supervisor) reset() {
	s.stopRetry()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.dialing = false
	s.probing = false
	s.dropConn()
}

func (s *Supervisor) teardown() {
	s.reset()
}

// dropConn closes the active transport and invalidates its reader.
func (s *Supervisor) dropConn() {
	s.gen++
	s.pingSent = time.Time{}
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.kind = ""
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Supervisor) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retryC = nil
}

func (s *Supervisor) setState(st State, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	kind := s.kind
	s.mu.Unlock()

	if prev == st && err == nil {
		return
	}
	slog.Debug("connection state", "from", prev, "to", st, "err", err)
	s.emit(Event{Kind: EventState, State: st, Err: err, Transport: kind})
}

func (s *Supervisor) setAttempt(n int) {
	s.mu.Lock()
	s.attempt = n
	s.mu.Unlock()
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) currentConn() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// emit queues an event; Run delivers the queue without ever blocking.
func (s *Supervisor) emit(e Event) {
	s.queue = append(s.queue, e)
}
