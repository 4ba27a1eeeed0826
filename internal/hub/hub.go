// Package hub implements the relay's room registry. A room is keyed by a sync
// token; every peer connected with that token receives every update published
// to it. The hub is transport-agnostic: peers register, receive messages via
// a non-blocking Send, and publish content.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"go.klb.dev/corridor/internal/crypto"
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/history"
	"go.klb.dev/corridor/internal/kv"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/message"
)

// Peer is anything that can receive room messages from the hub.
type Peer interface {
	ID() string
	Token() string
	// Send delivers a message to the peer. Must be non-blocking.
	Send(*message.Message)
}

type room struct {
	mu     sync.Mutex
	key    string
	sealer *crypto.Sealer
	peers  map[string]Peer
	items  []message.Item
	loaded bool

	// dropped is set once the room left the registry.
	dropped bool
}

// Hub routes clipboard updates between the peers of each room.
type Hub struct {
	capacity int
	store    kv.Store

	mu    sync.Mutex
	rooms map[string]*room
}

// New returns an empty Hub keeping capacity items per room. store may be nil
// to keep rooms in memory only.
func New(capacity int, store kv.Store) *Hub {
	if capacity <= 0 {
		capacity = history.DefaultCap
	}
	return &Hub{
		capacity: capacity,
		store:    store,
		rooms:    make(map[string]*room),
	}
}

// room returns the room for token, loading its history on first use.
// The returned room is locked.
func (h *Hub) room(ctx context.Context, token string) (*room, error) {
	for {
		h.mu.Lock()
		r, ok := h.rooms[token]
		if !ok {
			r = &room{key: "room:" + crypto.StoreKey(token), peers: make(map[string]Peer)}
			h.rooms[token] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.dropped {
			return h.ensureLoaded(ctx, token, r)
		}
		r.mu.Unlock()
	}
}

// ensureLoaded is called with r.mu held and returns with it held on success.
func (h *Hub) ensureLoaded(ctx context.Context, token string, r *room) (*room, error) {
	if r.loaded {
		return r, nil
	}
	if err := h.load(ctx, token, r); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.loaded = true
	return r, nil
}

func (h *Hub) load(ctx context.Context, token string, r *room) error {
	if h.store == nil {
		return nil
	}
	sealer, err := crypto.NewSealer(token)
	if err != nil {
		return err
	}
	r.sealer = sealer

	raw, err := h.store.Get(ctx, r.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	plain, err := sealer.Open(raw)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if err := json.Unmarshal(plain, &r.items); err != nil {
		return fmt.Errorf("decode room: %w", err)
	}
	if len(r.items) > h.capacity {
		r.items = r.items[:h.capacity]
	}
	return nil
}

// save must be called with r.mu held.
func (h *Hub) save(ctx context.Context, r *room) {
	if h.store == nil || r.sealer == nil {
		return
	}
	items := r.items
	if items == nil {
		items = []message.Item{}
	}
	plain, err := json.Marshal(items)
	if err != nil {
		slog.Error("room encode failed", "err", err)
		return
	}
	sealed, err := r.sealer.Seal(plain)
	if err != nil {
		slog.Error("room seal failed", "err", err)
		return
	}
	if err := h.store.Set(ctx, r.key, sealed); err != nil {
		slog.Warn("room not saved", "err", err)
	}
}

// Register adds a peer to its room and immediately delivers the room history.
func (h *Hub) Register(ctx context.Context, p Peer) error {
	r, err := h.room(ctx, p.Token())
	if err != nil {
		return err
	}
	r.peers[p.ID()] = p
	items := append([]message.Item(nil), r.items...)
	total := len(r.peers)
	r.mu.Unlock()

	slog.Info("peer registered",
		"peer", p.ID(),
		"token", logging.RedactToken(p.Token()),
		"room_peers", total,
	)
	p.Send(message.NewHistory(items))
	return nil
}

// Unregister removes a peer from its room. Rooms left idle are dropped from
// memory.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[p.Token()]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.peers, p.ID())
	total := len(r.peers)
	if h.idle(r) {
		r.dropped = true
		delete(h.rooms, p.Token())
	}
	r.mu.Unlock()

	slog.Info("peer unregistered",
		"peer", p.ID(),
		"token", logging.RedactToken(p.Token()),
		"room_peers", total,
	)
}

// Publish stores content as the newest item of the room, assigning an id and
// timestamp, and sends it to every peer in the room including the sender.
// Content that already is the newest item is announced again under its
// existing id instead of being stored twice.
func (h *Hub) Publish(ctx context.Context, token, content, source string) (message.Item, error) {
	r, err := h.room(ctx, token)
	if err != nil {
		return message.Item{}, err
	}
	if len(r.items) > 0 && r.items[0].Content == content {
		it := r.items[0]
		peers := peersOf(r)
		r.mu.Unlock()

		LogItem("clipboard republished", token, source, it)
		h.broadcast(peers, message.NewUpdate(it.Event()))
		return it, nil
	}
	it := message.Item{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: event.NowMillis(),
	}
	next := make([]message.Item, 0, min(len(r.items)+1, h.capacity))
	next = append(next, it)
	for _, old := range r.items {
		if len(next) == h.capacity {
			break
		}
		next = append(next, old)
	}
	r.items = next
	h.save(ctx, r)
	peers := peersOf(r)
	r.mu.Unlock()

	LogItem("clipboard published", token, source, it)
	h.broadcast(peers, message.NewUpdate(it.Event()))
	h.release(token)
	return it, nil
}

// Clear empties the room and sends the empty history to every peer.
func (h *Hub) Clear(ctx context.Context, token, source string) error {
	r, err := h.room(ctx, token)
	if err != nil {
		return err
	}
	r.items = nil
	h.save(ctx, r)
	peers := peersOf(r)
	r.mu.Unlock()

	slog.Info("room cleared", "token", logging.RedactToken(token), "source", source)
	h.broadcast(peers, message.NewHistory(nil))
	h.release(token)
	return nil
}

// History returns the room items, newest first.
func (h *Hub) History(ctx context.Context, token string) ([]message.Item, error) {
	r, err := h.room(ctx, token)
	if err != nil {
		return nil, err
	}
	items := append([]message.Item{}, r.items...)
	r.mu.Unlock()
	h.release(token)
	return items, nil
}

// Peers returns the number of peers connected to token's room.
func (h *Hub) Peers(token string) int {
	h.mu.Lock()
	r, ok := h.rooms[token]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Rooms returns the number of rooms held in memory.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// idle reports whether r can leave memory: nobody is connected and its
// history is either empty or safe in the store. Called with r.mu held.
func (h *Hub) idle(r *room) bool {
	return len(r.peers) == 0 && (h.store != nil || len(r.items) == 0)
}

// release drops token's room from memory if it is idle.
func (h *Hub) release(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[token]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.idle(r) {
		r.dropped = true
		delete(h.rooms, token)
	}
}

func (h *Hub) broadcast(peers []Peer, msg *message.Message) {
	for _, p := range peers {
		p.Send(msg)
	}
}

// peersOf must be called with r.mu held.
func peersOf(r *room) []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}
