// Package events fans committed invocation events out to downstream
// consumers. Events are published only after the invocation's writes are
// committed to the ledger.
package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/atmx/futurebureau/internal/contract"
)

// Envelope is one committed event together with the invocation that
// produced it.
type Envelope struct {
	ID        string          `json:"id"`
	Function  string          `json:"function"`
	Caller    string          `json:"caller"`
	Timestamp int64           `json:"timestamp"`
	Type      string          `json:"type"`
	Market    string          `json:"market,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Wrap stamps each event of a committed invocation with a fresh id.
func Wrap(inv contract.Invocation, caller string, evs []contract.Event) []Envelope {
	out := make([]Envelope, 0, len(evs))
	for _, e := range evs {
		out = append(out, Envelope{
			ID:        uuid.New().String(),
			Function:  inv.Function,
			Caller:    caller,
			Timestamp: inv.Timestamp,
			Type:      e.Type,
			Market:    e.Market,
			Payload:   e.Payload,
		})
	}
	return out
}

// Publisher delivers committed events. Publish errors never undo the
// invocation; callers log them.
type Publisher interface {
	Publish(ctx context.Context, envs []Envelope) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, []Envelope) error { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, envs []Envelope) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, envs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
