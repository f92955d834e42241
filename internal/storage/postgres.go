package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SchemaSQL creates the table backing PGStore.
const SchemaSQL = `CREATE TABLE IF NOT EXISTS console_storage (
	context_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (context_id, key)
)`

// Querier is the subset of *pgxpool.Pool used by PGStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore keeps console storage rows in PostgreSQL.
type PGStore struct {
	db        Querier
	contextID string
}

// NewPGStore constructs a PGStore scoped to contextID.
func NewPGStore(db Querier, contextID string) *PGStore {
	return &PGStore{db: db, contextID: contextID}
}

// PGFactory returns a Factory producing PGStores on db.
func PGFactory(db Querier) Factory {
	return func(contextID string) Store {
		return NewPGStore(db, contextID)
	}
}

// Get returns the value stored under key.
func (s *PGStore) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM console_storage WHERE context_id = $1 AND key = $2`
	var value string
	if err := s.db.QueryRow(ctx, query, s.contextID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: pg get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *PGStore) Set(ctx context.Context, key, value string) error {
	const query = `INSERT INTO console_storage (context_id, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (context_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.db.Exec(ctx, query, s.contextID, key, value); err != nil {
		return fmt.Errorf("storage: pg set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PGStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM console_storage WHERE context_id = $1 AND key = $2`
	if _, err := s.db.Exec(ctx, query, s.contextID, key); err != nil {
		return fmt.Errorf("storage: pg delete %s: %w", key, err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)
