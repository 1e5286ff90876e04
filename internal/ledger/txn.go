package ledger

import (
	"context"
	"fmt"
)

// Txn buffers the writes of one invocation over a base Ledger. Reads see
// the invocation's own writes. Nothing reaches the base until Commit, so a
// failed invocation leaves no trace.
//
// A Txn is not safe for concurrent use; the host applies invocations one at
// a time.
type Txn struct {
	base   Ledger
	writes map[string][]byte
	order  []string
	done   bool
}

// NewTxn opens a write buffer over base.
func NewTxn(base Ledger) *Txn {
	return &Txn{base: base, writes: make(map[string][]byte)}
}

func (t *Txn) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return clone(v), nil
	}
	return t.base.Get(ctx, key)
}

func (t *Txn) Put(_ context.Context, key string, value []byte) error {
	if t.done {
		return fmt.Errorf("ledger: put on finished transaction")
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKeyAttribute)
	}
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = clone(value)
	return nil
}

// Writes returns the buffered writes in first-write order.
func (t *Txn) Writes() []Write {
	out := make([]Write, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Write{Key: k, Value: t.writes[k]})
	}
	return out
}

// Commit flushes the buffered writes to the base ledger, atomically when
// the base implements BatchWriter.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("ledger: commit on finished transaction")
	}
	t.done = true
	writes := t.Writes()
	if len(writes) == 0 {
		return nil
	}
	if bw, ok := t.base.(BatchWriter); ok {
		return bw.PutBatch(ctx, writes)
	}
	for _, w := range writes {
		if err := t.base.Put(ctx, w.Key, w.Value); err != nil {
			return fmt.Errorf("ledger: commit %q: %w", w.Key, err)
		}
	}
	return nil
}

// Discard drops every buffered write.
func (t *Txn) Discard() {
	t.done = true
	t.writes = nil
	t.order = nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
