package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/pkg/provider/embeddings"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name or backend.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names and store backends to their constructor
// functions. The server registers its built-in factories at startup;
// embedders of the engine can register additional ones under new names.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	vector     map[VectorBackend]func(context.Context, VectorConfig, embeddings.Provider) (vector.Store, error)
	state      map[StateBackend]func(context.Context, StateConfig) (game.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		vector:     make(map[VectorBackend]func(context.Context, VectorConfig, embeddings.Provider) (vector.Store, error)),
		state:      make(map[StateBackend]func(context.Context, StateConfig) (game.Store, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterVector registers a vector store factory for backend. The factory
// receives the configured embeddings provider; backends that embed on write
// use it, backends that store pre-computed vectors may ignore it.
func (r *Registry) RegisterVector(backend VectorBackend, factory func(context.Context, VectorConfig, embeddings.Provider) (vector.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vector[backend] = factory
}

// RegisterState registers a session state store factory for backend.
func (r *Registry) RegisterState(backend StateBackend, factory func(context.Context, StateConfig) (game.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[backend] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVector instantiates the vector store for cfg.Backend.
func (r *Registry) CreateVector(ctx context.Context, cfg VectorConfig, embedder embeddings.Provider) (vector.Store, error) {
	r.mu.RLock()
	factory, ok := r.vector[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vector/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg, embedder)
}

// CreateState instantiates the session state store for cfg.Backend.
func (r *Registry) CreateState(ctx context.Context, cfg StateConfig) (game.Store, error) {
	r.mu.RLock()
	factory, ok := r.state[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: state/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
