// Package postgres provides a PostgreSQL-backed [game.Store]. Each session
// snapshot is stored as a single JSONB row keyed by session id, so the schema
// never needs to chase the snapshot shape.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, state.Snapshot())
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/fateweaver/internal/game"
)

var _ game.Store = (*Store)(nil)

const ddlGameSessions = `
CREATE TABLE IF NOT EXISTS game_sessions (
    session_id  TEXT         PRIMARY KEY,
    snapshot    JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_game_sessions_updated_at
    ON game_sessions (updated_at);
`

// Store is the PostgreSQL session-snapshot store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the snapshot table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("game store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("game store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("game store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("game store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the snapshot table if it does not exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlGameSessions); err != nil {
		return fmt.Errorf("game store migrate: %w", err)
	}
	return nil
}

// Save implements [game.Store] as an upsert on session_id.
func (s *Store) Save(ctx context.Context, snap game.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("game store: save: empty session id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("game store: marshal snapshot: %w", err)
	}

	const q = `
		INSERT INTO game_sessions (session_id, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, snap.SessionID, data, snap.UpdatedAt); err != nil {
		return fmt.Errorf("game store: save %q: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements [game.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (game.Snapshot, error) {
	const q = `SELECT snapshot FROM game_sessions WHERE session_id = $1`

	var data []byte
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Snapshot{}, fmt.Errorf("game store: load %q: %w", sessionID, game.ErrSessionNotFound)
	}
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("game store: load %q: %w", sessionID, err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("game store: unmarshal snapshot %q: %w", sessionID, err)
	}
	return snap, nil
}

// Delete implements [game.Store]. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM game_sessions WHERE session_id = $1`

	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("game store: delete %q: %w", sessionID, err)
	}
	return nil
}

// List implements [game.Store].
func (s *Store) List(ctx context.Context) ([]string, error) {
	const q = `SELECT session_id FROM game_sessions ORDER BY session_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("game store: list: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("game store: list: scan rows: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
