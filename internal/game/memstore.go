package game

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is the in-process [Store] backend. It is the default for
// single-node deployments and the workhorse of tests; sessions stored here do
// not survive a restart.
type MemStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{snaps: make(map[string]Snapshot)}
}

// Save implements [Store]. The snapshot is deep-copied on the way in so later
// mutations of the caller's value cannot leak into the store.
func (m *MemStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.SessionID == "" {
		return fmt.Errorf("memstore: save: empty session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.SessionID] = snap.Clone()
	return nil
}

// Load implements [Store].
func (m *MemStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("memstore: load %q: %w", sessionID, ErrSessionNotFound)
	}
	return snap.Clone(), nil
}

// Delete implements [Store]. Deleting an unknown id is a no-op.
func (m *MemStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, sessionID)
	return nil
}

// List implements [Store].
func (m *MemStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(m.snaps))
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
