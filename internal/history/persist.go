package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.klb.dev/corridor/internal/crypto"
	"go.klb.dev/corridor/internal/event"
	"go.klb.dev/corridor/internal/kv"
)

// Persistence loads and saves a session's history through a kv.Store.
// When Sealer is set values are encrypted at rest.
type Persistence struct {
	KV     kv.Store
	Key    string
	Sealer *crypto.Sealer
}

// NewPersistence keys the history by a digest of token and seals it with a
// token-derived key.
func NewPersistence(store kv.Store, token string) (*Persistence, error) {
	sealer, err := crypto.NewSealer(token)
	if err != nil {
		return nil, err
	}
	return &Persistence{
		KV:     store,
		Key:    "history:" + crypto.StoreKey(token),
		Sealer: sealer,
	}, nil
}

// Load returns the saved history, or nil when nothing was saved yet.
func (p *Persistence) Load(ctx context.Context) ([]event.Event, error) {
	raw, err := p.KV.Get(ctx, p.Key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history load: %w", err)
	}
	if p.Sealer != nil {
		if raw, err = p.Sealer.Open(raw); err != nil {
			return nil, fmt.Errorf("history load: %w", err)
		}
	}
	var events []event.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}
	return events, nil
}

// Save writes events, replacing whatever was stored.
func (p *Persistence) Save(ctx context.Context, events []event.Event) error {
	if events == nil {
		events = []event.Event{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("history encode: %w", err)
	}
	if p.Sealer != nil {
		if raw, err = p.Sealer.Seal(raw); err != nil {
			return fmt.Errorf("history seal: %w", err)
		}
	}
	if err := p.KV.Set(ctx, p.Key, raw); err != nil {
		return fmt.Errorf("history save: %w", err)
	}
	return nil
}
