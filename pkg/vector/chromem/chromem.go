// Package chromem implements [vector.Store] on top of the embedded chromem-go
// database. It runs fully in-process and needs no external service, which
// makes it the default vector backend.
//
// By default all data lives in memory and is lost on restart; pass
// [WithPersistPath] to write collections to disk so lore indexes and NPC
// memories survive restarts.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/MrWong99/fateweaver/pkg/provider/embeddings"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

// Compile-time interface checks.
var (
	_ vector.Store      = (*Store)(nil)
	_ vector.Collection = (*collection)(nil)
)

type options struct {
	persistPath string
	compress    bool
}

// Option configures a [Store].
type Option func(*options)

// WithPersistPath makes the store persist collections under the given
// directory instead of keeping them in memory only.
func WithPersistPath(path string) Option {
	return func(o *options) { o.persistPath = path }
}

// WithCompression enables gzip compression of persisted collection files.
// Only meaningful together with [WithPersistPath].
func WithCompression(compress bool) Option {
	return func(o *options) { o.compress = compress }
}

// Store is the chromem-backed [vector.Store].
type Store struct {
	db       *chromem.DB
	provider embeddings.Provider

	mu   sync.RWMutex
	cols map[string]*collection
}

// New creates a chromem-backed store that embeds documents and queries with
// the given provider.
func New(provider embeddings.Provider, opts ...Option) (*Store, error) {
	if provider == nil {
		return nil, errors.New("chromem: embeddings provider must not be nil")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var db *chromem.DB
	if o.persistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(o.persistPath, o.compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: open persistent db at %s: %w", o.persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Store{
		db:       db,
		provider: provider,
		cols:     make(map[string]*collection),
	}, nil
}

// embeddingFunc adapts the configured [embeddings.Provider] to chromem's
// callback signature.
func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.provider.Embed(ctx, text)
	}
}

// Collection implements [vector.Store]. Collections are cached so repeated
// lookups of the same name return the same handle.
func (s *Store) Collection(_ context.Context, name string) (vector.Collection, error) {
	s.mu.RLock()
	col, ok := s.cols[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.cols[name]; ok {
		return col, nil
	}

	raw, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("chromem: get or create collection %s: %w", name, err)
	}
	col = &collection{col: raw}
	s.cols[name] = col
	return col, nil
}

// DeleteCollection implements [vector.Store].
func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("chromem: delete collection %s: %w", name, err)
	}
	delete(s.cols, name)
	return nil
}

// Close implements [vector.Store]. The embedded database flushes writes as
// they happen, so there is nothing to tear down.
func (s *Store) Close() error {
	return nil
}

type collection struct {
	col *chromem.Collection
}

// Add implements [vector.Collection]. Embeddings are computed concurrently,
// one worker per CPU.
func (c *collection) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	converted := make([]chromem.Document, len(docs))
	for i, d := range docs {
		converted[i] = chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		}
	}
	if err := c.col.AddDocuments(ctx, converted, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add documents: %w", err)
	}
	return nil
}

// Query implements [vector.Collection].
func (c *collection) Query(ctx context.Context, text string, topK int, where map[string]string) ([]vector.Result, error) {
	// chromem refuses queries asking for more results than stored documents.
	if n := c.col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := c.col.Query(ctx, text, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]vector.Result, len(results))
	for i, r := range results {
		out[i] = vector.Result{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: 1 - r.Similarity,
		}
	}
	return out, nil
}

// Count implements [vector.Collection].
func (c *collection) Count(context.Context) (int, error) {
	return c.col.Count(), nil
}
