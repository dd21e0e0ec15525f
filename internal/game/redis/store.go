// Package redis provides a Redis-backed [game.Store]. Each session snapshot
// is stored as a JSON value under "state:{session_id}", optionally with a
// TTL so abandoned sessions age out on their own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/fateweaver/internal/game"
)

var _ game.Store = (*Store)(nil)

// keyPrefix namespaces session snapshots in the keyspace.
const keyPrefix = "state:"

// scanBatch is the COUNT hint passed to SCAN during [Store.List].
const scanBatch = 256

// Store is the Redis session-snapshot store. All methods are safe for
// concurrent use.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets an expiry on every saved snapshot. Each Save refreshes the
// expiry, so only sessions idle for the full duration disappear. A zero or
// negative duration (the default) keeps snapshots forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewStore creates a store on top of an existing Redis client. The caller
// retains ownership of the client and is responsible for closing it.
func NewStore(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Save implements [game.Store].
func (s *Store) Save(ctx context.Context, snap game.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("redis store: save: empty session id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis store: marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(snap.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis store: save %q: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements [game.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (game.Snapshot, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return game.Snapshot{}, fmt.Errorf("redis store: load %q: %w", sessionID, game.ErrSessionNotFound)
	}
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("redis store: load %q: %w", sessionID, err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("redis store: unmarshal snapshot %q: %w", sessionID, err)
	}
	return snap, nil
}

// Delete implements [game.Store]. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %q: %w", sessionID, err)
	}
	return nil
}

// List implements [game.Store]. It walks the keyspace with SCAN rather than
// KEYS so a large deployment is not blocked while listing.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis store: list: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slices.Sort(ids)
	return ids, nil
}
