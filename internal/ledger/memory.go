package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger implements Ledger with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu    sync.RWMutex
	state map[string][]byte
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: make(map[string][]byte)}
}

func (l *MemoryLedger) Get(_ context.Context, key string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Return a copy to avoid external mutation.
	return clone(l.state[key]), nil
}

func (l *MemoryLedger) Put(_ context.Context, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state[key] = clone(value)
	return nil
}

// PutBatch applies all writes under a single lock.
func (l *MemoryLedger) PutBatch(_ context.Context, writes []Write) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range writes {
		l.state[w.Key] = clone(w.Value)
	}
	return nil
}

// Keys returns every stored key in sorted order.
func (l *MemoryLedger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.state))
	for k := range l.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
