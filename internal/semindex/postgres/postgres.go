// Package postgres provides a PostgreSQL/pgvector-backed [semindex.Index].
//
// Command phrase embeddings are small (a few hundred rows), but keeping them
// in Postgres lets several daemon instances share one index, survives
// restarts without re-embedding, and scales to installations with large
// macro libraries via the HNSW index. The pgvector extension must be
// available; [Migrate] installs it with CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, provider.Dimensions())
//	if err != nil { … }
//	defer store.Close()
//
//	err = semindex.Rebuild(ctx, store, snapshot, provider)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/earshot/internal/semindex"
)

var _ semindex.Index = (*Store)(nil)

// Store is a pgvector-backed semantic index over command embeddings.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate].
//
// embeddingDimensions must match the configured embedding provider's output;
// changing providers afterwards requires dropping the command_embeddings
// table.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("semindex postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("semindex postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("semindex postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("semindex postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ddl returns the DDL with the embedding dimension substituted. The vector
// dimension is baked into the column type at schema creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS command_embeddings (
    id         TEXT        PRIMARY KEY,
    intent_id  TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    kind       TEXT        NOT NULL,
    embedding  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_command_embeddings_intent
    ON command_embeddings (intent_id);

CREATE INDEX IF NOT EXISTS idx_command_embeddings_embedding
    ON command_embeddings USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the command_embeddings table and its indexes. It is
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("semindex postgres: migrate: %w", err)
	}
	return nil
}

// Upsert implements [semindex.Index]. Entries are written in a single batch
// round trip.
func (s *Store) Upsert(ctx context.Context, entries []semindex.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO command_embeddings (id, intent_id, text, kind, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    intent_id = EXCLUDED.intent_id,
		    text      = EXCLUDED.text,
		    kind      = EXCLUDED.kind,
		    embedding = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, e.ID, e.IntentID, e.Text, string(e.Kind), pgvector.NewVector(e.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("semindex postgres: upsert %d entries: %w", len(entries), err)
	}
	return nil
}

// Search implements [semindex.Index]. Rows are ordered by cosine distance;
// the returned score is 1-distance so higher means more similar.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]semindex.Hit, error) {
	const q = `
		SELECT id, intent_id, text, kind, embedding,
		       embedding <=> $1 AS distance
		FROM   command_embeddings
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("semindex postgres: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (semindex.Hit, error) {
		var (
			hit      semindex.Hit
			kind     string
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(&hit.Entry.ID, &hit.Entry.IntentID, &hit.Entry.Text, &kind, &vec, &distance); err != nil {
			return semindex.Hit{}, err
		}
		hit.Entry.Kind = semindex.EntryKind(kind)
		hit.Entry.Vector = vec.Slice()
		hit.Score = 1 - distance
		return hit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semindex postgres: scan rows: %w", err)
	}
	if hits == nil {
		hits = []semindex.Hit{}
	}
	return hits, nil
}

// Clear implements [semindex.Index].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE command_embeddings`); err != nil {
		return fmt.Errorf("semindex postgres: clear: %w", err)
	}
	return nil
}

// Count implements [semindex.Index].
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM command_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("semindex postgres: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
