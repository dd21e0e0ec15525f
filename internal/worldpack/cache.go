package worldpack

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotFound is returned by [Cache.Get] for an unregistered pack id.
var ErrNotFound = errors.New("world pack not found")

// Cache is the process-wide registry of loaded packs. Packs are loaded and
// validated once at registration time and shared read-only afterwards; there
// is deliberately no reload path because packs are immutable for the process
// lifetime.
//
// All methods are safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	packs map[string]*Pack
}

// NewCache returns an empty pack registry.
func NewCache() *Cache {
	return &Cache{packs: make(map[string]*Pack)}
}

// Register loads, validates and registers the pack file at path under its
// own info.id. Validation warnings are logged; validation errors fail the
// registration. Registering a second pack with an already-registered id is
// an error.
func (c *Cache) Register(path string) (*Pack, error) {
	pack, err := Load(path)
	if err != nil {
		return nil, err
	}

	warnings, err := pack.Validate()
	for _, w := range warnings {
		slog.Warn("world pack warning", "pack", pack.ID(), "detail", w)
	}
	if err != nil {
		return nil, fmt.Errorf("worldpack: %s: %w", pack.Path(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.packs[pack.ID()]; ok {
		return nil, fmt.Errorf("worldpack: %s: pack id %q already registered from %s",
			pack.Path(), pack.ID(), existing.Path())
	}
	c.packs[pack.ID()] = pack

	slog.Info("world pack registered",
		"pack", pack.ID(),
		"entries", len(pack.entries),
		"npcs", len(pack.npcs),
		"locations", len(pack.locations),
		"regions", len(pack.regions),
		"presets", len(pack.presets),
	)
	return pack, nil
}

// Get returns the registered pack with the given id.
// Returns [ErrNotFound] when the id is unknown.
func (c *Cache) Get(id string) (*Pack, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pack, ok := c.packs[id]
	if !ok {
		return nil, fmt.Errorf("worldpack: %q: %w", id, ErrNotFound)
	}
	return pack, nil
}

// IDs returns the registered pack ids in ascending order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.packs)
}
