package game

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by [Store.Load] when no snapshot exists for
// the requested session id.
var ErrSessionNotFound = errors.New("game: session not found")

// Store persists session snapshots so a session survives process restarts and
// client reconnects. Implementations exist for in-process memory ([MemStore]),
// PostgreSQL, and Redis.
//
// Save must behave as an upsert keyed by [Snapshot.SessionID]. Load of an
// unknown id returns an error wrapping [ErrSessionNotFound]; deleting an
// unknown id is not an error.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save writes or replaces the snapshot for snap.SessionID.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the snapshot stored for sessionID.
	Load(ctx context.Context, sessionID string) (Snapshot, error)

	// Delete removes the snapshot for sessionID, if any.
	Delete(ctx context.Context, sessionID string) error

	// List returns the stored session ids in lexical order.
	// Returns an empty (non-nil) slice when the store is empty.
	List(ctx context.Context) ([]string, error)
}
