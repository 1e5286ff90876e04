package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements Ledger on a Redis keyspace. Keys are namespaced
// with an optional prefix so several contracts can share one instance.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisLedger) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := l.rdb.Get(ctx, l.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return data, nil
}

func (l *RedisLedger) Put(ctx context.Context, key string, value []byte) error {
	return l.rdb.Set(ctx, l.key(key), value, 0).Err()
}

// PutBatch applies all writes inside MULTI/EXEC.
func (l *RedisLedger) PutBatch(ctx context.Context, writes []Write) error {
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.Set(ctx, l.key(w.Key), w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply state batch: %w", err)
	}
	return nil
}

func (l *RedisLedger) key(k string) string { return l.prefix + k }
