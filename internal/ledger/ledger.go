// Package ledger defines the key-value primitive the settlement core runs
// against. Implementations include PostgreSQL, Redis, and in-memory (for
// testing). The core only ever sees Get, Put and CompositeKey.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKeyAttribute is returned when a composite key namespace or
// attribute is empty or contains the separator.
var ErrInvalidKeyAttribute = errors.New("ledger: composite key attribute must be a non-empty string")

const (
	compositeKeyNS = "\x00"
	separator      = "\x00"
)

// Ledger is the state primitive. Get returns (nil, nil) for an absent key.
type Ledger interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Write is one buffered key/value pair.
type Write struct {
	Key   string
	Value []byte
}

// BatchWriter is implemented by backends that can apply a set of writes
// atomically.
type BatchWriter interface {
	PutBatch(ctx context.Context, writes []Write) error
}

// CompositeKey builds a namespaced key from an entity type and a sequence
// of attributes: "\x00" + ns + "\x00" + attr + "\x00" ...
func CompositeKey(namespace string, parts ...string) (string, error) {
	if err := validateAttribute(namespace); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(compositeKeyNS)
	b.WriteString(namespace)
	b.WriteString(separator)
	for _, p := range parts {
		if err := validateAttribute(p); err != nil {
			return "", err
		}
		b.WriteString(p)
		b.WriteString(separator)
	}
	return b.String(), nil
}

// SplitCompositeKey is the inverse of CompositeKey.
func SplitCompositeKey(key string) (string, []string, error) {
	if !strings.HasPrefix(key, compositeKeyNS) || !strings.HasSuffix(key, separator) || len(key) < 3 {
		return "", nil, fmt.Errorf("ledger: %q is not a composite key", key)
	}
	fields := strings.Split(key[1:len(key)-1], separator)
	return fields[0], fields[1:], nil
}

func validateAttribute(s string) error {
	if s == "" || strings.Contains(s, separator) {
		return fmt.Errorf("%w: %q", ErrInvalidKeyAttribute, s)
	}
	return nil
}
