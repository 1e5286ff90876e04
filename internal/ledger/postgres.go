package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger implements Ledger on a single key/value table. Composite
// keys contain NUL separators, so keys are stored as BYTEA, not TEXT.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// EnsureSchema creates the state table if it does not exist.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS ledger_state (
			key        BYTEA PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (l *PostgresLedger) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := l.pool.QueryRow(ctx,
		`SELECT value FROM ledger_state WHERE key = $1`, []byte(key)).
		Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

func (l *PostgresLedger) Put(ctx context.Context, key string, value []byte) error {
	_, err := l.pool.Exec(ctx, upsertState, []byte(key), value)
	return err
}

// PutBatch applies all writes in one database transaction.
func (l *PostgresLedger) PutBatch(ctx context.Context, writes []Write) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, w := range writes {
		batch.Queue(upsertState, []byte(w.Key), w.Value)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("apply state batch: %w", err)
	}
	return tx.Commit(ctx)
}

const upsertState = `INSERT INTO ledger_state (key, value, updated_at)
	 VALUES ($1, $2, now())
	 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
