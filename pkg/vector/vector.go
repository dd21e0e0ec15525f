// Package vector defines the vector store abstraction used for semantic
// retrieval of lore entries and NPC memories.
//
// A [Store] hosts named collections. Each [Collection] holds text documents
// whose embeddings are computed by the [embeddings.Provider] the store was
// constructed with, so callers only ever deal in plain text. Two backends
// implement the contract:
//
//   - chromem: embedded in-process storage (github.com/philippgille/chromem-go),
//     optionally persisted to disk. The default for single-node deployments.
//   - pgvector: PostgreSQL with the pgvector extension, for deployments that
//     already run Postgres for session state.
//
// Distances are cosine distances: 0 means identical direction, 1 means
// orthogonal. Retrieval layers convert a distance d into a similarity score
// as 1 - d.
package vector

import "context"

// Document is a unit of content stored in a [Collection].
type Document struct {
	// ID uniquely identifies the document within its collection. Adding a
	// document under an existing ID replaces the stored version.
	ID string
	// Content is the text that gets embedded and searched.
	Content string
	// Metadata holds exact-match filterable key/value pairs.
	Metadata map[string]string
}

// Result is a single nearest-neighbour hit returned by [Collection.Query].
type Result struct {
	ID       string
	Content  string
	Metadata map[string]string
	// Distance is the cosine distance between the query text and this
	// document. Lower means more similar.
	Distance float32
}

// Collection is a named set of documents sharing one embedding space.
// Implementations are safe for concurrent use.
type Collection interface {
	// Add embeds and upserts the given documents.
	Add(ctx context.Context, docs []Document) error

	// Query returns the topK documents nearest to the query text, most
	// similar first. where restricts results to documents whose metadata
	// contains every given key/value pair; nil means no filter. When the
	// collection holds fewer than topK documents, all of them are returned.
	Query(ctx context.Context, text string, topK int, where map[string]string) ([]Result, error)

	// Count reports the number of documents in the collection.
	Count(ctx context.Context) (int, error)
}

// Store hosts named collections and owns the backing database handle.
type Store interface {
	// Collection returns the named collection, creating it if needed.
	Collection(ctx context.Context, name string) (Collection, error)

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, name string) error

	// Close releases all resources held by the store.
	Close() error
}
