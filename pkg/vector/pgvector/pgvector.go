// Package pgvector implements [vector.Store] on PostgreSQL with the pgvector
// extension. It is meant for deployments that already run Postgres for
// session state and want vector search in the same database.
//
// All collections share a single table keyed by (collection, id); nearest
// neighbour search uses the cosine distance operator over an HNSW index.
// [New] installs the schema automatically and is safe to call on every
// application start.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pg "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/fateweaver/pkg/provider/embeddings"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

// Compile-time interface checks.
var (
	_ vector.Store      = (*Store)(nil)
	_ vector.Collection = (*collection)(nil)
)

// ddl returns the schema with the embedding dimension substituted. The
// dimension is baked into the column type at creation time; changing the
// embedding model afterwards requires a manual schema update.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_documents (
    collection  TEXT   NOT NULL,
    id          TEXT   NOT NULL,
    content     TEXT   NOT NULL,
    metadata    JSONB  NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_vector_documents_collection
    ON vector_documents (collection);

CREATE INDEX IF NOT EXISTS idx_vector_documents_embedding
    ON vector_documents USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Store is the Postgres-backed [vector.Store].
type Store struct {
	pool     *pgxpool.Pool
	provider embeddings.Provider
}

// New connects to PostgreSQL, registers the pgvector types on every
// connection and ensures the schema exists. Embeddings for documents and
// queries are computed with the given provider; the vector column dimension
// is taken from [embeddings.Provider.Dimensions].
func New(ctx context.Context, dsn string, provider embeddings.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("pgvector: embeddings provider must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddl(provider.Dimensions())); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: migrate: %w", err)
	}

	return &Store{pool: pool, provider: provider}, nil
}

// Collection implements [vector.Store]. Collections exist implicitly as soon
// as a document is added under their name, so this never touches the
// database.
func (s *Store) Collection(_ context.Context, name string) (vector.Collection, error) {
	return &collection{store: s, name: name}, nil
}

// DeleteCollection implements [vector.Store].
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM vector_documents WHERE collection = $1`, name); err != nil {
		return fmt.Errorf("pgvector: delete collection %s: %w", name, err)
	}
	return nil
}

// Ping verifies database connectivity. Readiness probes call it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [vector.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type collection struct {
	store *Store
	name  string
}

// Add implements [vector.Collection]. Documents are embedded in one batch
// call and upserted row by row.
func (c *collection) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := c.store.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("pgvector: embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("pgvector: embed documents: got %d embeddings for %d documents", len(vecs), len(docs))
	}

	const q = `
		INSERT INTO vector_documents (collection, id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    metadata  = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`

	for i, d := range docs {
		metaJSON, err := json.Marshal(metadataOrEmpty(d.Metadata))
		if err != nil {
			return fmt.Errorf("pgvector: marshal metadata for %s: %w", d.ID, err)
		}
		if _, err := c.store.pool.Exec(ctx, q,
			c.name, d.ID, d.Content, metaJSON, pg.NewVector(vecs[i]),
		); err != nil {
			return fmt.Errorf("pgvector: upsert document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Query implements [vector.Collection]. Results are ordered by ascending
// cosine distance (most similar first).
func (c *collection) Query(ctx context.Context, text string, topK int, where map[string]string) ([]vector.Result, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := c.store.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("pgvector: embed query: %w", err)
	}

	args := []any{c.name, pg.NewVector(queryVec)}
	filterClause := ""
	if len(where) > 0 {
		whereJSON, err := json.Marshal(where)
		if err != nil {
			return nil, fmt.Errorf("pgvector: marshal filter: %w", err)
		}
		args = append(args, string(whereJSON))
		filterClause = fmt.Sprintf("AND metadata @> $%d::jsonb", len(args))
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT id, content, metadata, embedding <=> $2 AS distance
		FROM   vector_documents
		WHERE  collection = $1
		%s
		ORDER  BY distance
		LIMIT  $%d`, filterClause, len(args))

	rows, err := c.store.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Result, error) {
		var (
			r        vector.Result
			metaJSON []byte
			distance float64
		)
		if err := row.Scan(&r.ID, &r.Content, &metaJSON, &distance); err != nil {
			return vector.Result{}, err
		}
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return vector.Result{}, fmt.Errorf("unmarshal metadata for %s: %w", r.ID, err)
		}
		r.Distance = float32(distance)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector: collect results: %w", err)
	}
	return results, nil
}

// Count implements [vector.Collection].
func (c *collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.pool.QueryRow(ctx,
		`SELECT count(*) FROM vector_documents WHERE collection = $1`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgvector: count collection %s: %w", c.name, err)
	}
	return n, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
