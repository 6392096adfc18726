// Package postgres provides a PostgreSQL-backed [adapt.Store].
//
// Unlike the JSONL file store, which appends raw events and replays them
// all, this store aggregates in place: corrections and app-usage counters
// are UPSERT-incremented, and replay streams the aggregated rows back.
// That keeps the table size proportional to the distinct pairs rather than
// the event count, and lets several daemon instances share one adaptation
// state.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/adapt"
)

var _ adapt.Store = (*Store)(nil)

// Store is a pgx-backed adaptation store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("adapt postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("adapt postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("adapt postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS adapt_corrections (
    wrong      TEXT        NOT NULL,
    correct    TEXT        NOT NULL,
    count      BIGINT      NOT NULL DEFAULT 1,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (wrong, correct)
);

CREATE TABLE IF NOT EXISTS adapt_shortcuts (
    phrase    TEXT        PRIMARY KEY,
    intent_id TEXT        NOT NULL,
    added     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS adapt_app_usage (
    app       TEXT        NOT NULL,
    bucket    TEXT        NOT NULL,
    count     BIGINT      NOT NULL DEFAULT 1,
    last_seen TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (app, bucket)
);
`

// Migrate ensures the adaptation tables exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("adapt postgres: apply schema: %w", err)
	}
	return nil
}

// Append folds one record into the aggregated tables.
func (s *Store) Append(ctx context.Context, rec adapt.Record) error {
	var err error
	switch rec.Kind {
	case adapt.KindCorrection:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO adapt_corrections (wrong, correct, count, first_seen, last_seen)
			VALUES ($1, $2, 1, $3, $3)
			ON CONFLICT (wrong, correct) DO UPDATE
			SET count = adapt_corrections.count + 1, last_seen = EXCLUDED.last_seen`,
			rec.Wrong, rec.Correct, rec.At)
	case adapt.KindShortcut:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO adapt_shortcuts (phrase, intent_id, added)
			VALUES ($1, $2, $3)
			ON CONFLICT (phrase) DO UPDATE
			SET intent_id = EXCLUDED.intent_id, added = EXCLUDED.added`,
			rec.Phrase, rec.IntentID, rec.At)
	case adapt.KindAppUsage:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO adapt_app_usage (app, bucket, count, last_seen)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (app, bucket) DO UPDATE
			SET count = adapt_app_usage.count + 1, last_seen = EXCLUDED.last_seen`,
			rec.App, string(rec.Bucket), rec.At)
	default:
		return fmt.Errorf("adapt postgres: unknown record kind %q", rec.Kind)
	}
	if err != nil {
		return fmt.Errorf("adapt postgres: upsert %s: %w", rec.Kind, err)
	}
	return nil
}

// Replay streams the aggregated state back as records. Corrections carry
// their accumulated Count and FirstAt so the in-memory promotion rule sees
// the same totals the file store would have replayed event by event.
func (s *Store) Replay(ctx context.Context, fn func(adapt.Record) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT wrong, correct, count, first_seen, last_seen FROM adapt_corrections`)
	if err != nil {
		return fmt.Errorf("adapt postgres: query corrections: %w", err)
	}
	for rows.Next() {
		rec := adapt.Record{Kind: adapt.KindCorrection}
		var count int64
		if err := rows.Scan(&rec.Wrong, &rec.Correct, &count, &rec.FirstAt, &rec.At); err != nil {
			rows.Close()
			return fmt.Errorf("adapt postgres: scan correction: %w", err)
		}
		rec.Count = int(count)
		if err := fn(rec); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("adapt postgres: read corrections: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT phrase, intent_id, added FROM adapt_shortcuts`)
	if err != nil {
		return fmt.Errorf("adapt postgres: query shortcuts: %w", err)
	}
	for rows.Next() {
		rec := adapt.Record{Kind: adapt.KindShortcut}
		if err := rows.Scan(&rec.Phrase, &rec.IntentID, &rec.At); err != nil {
			rows.Close()
			return fmt.Errorf("adapt postgres: scan shortcut: %w", err)
		}
		if err := fn(rec); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("adapt postgres: read shortcuts: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT app, bucket, count, last_seen FROM adapt_app_usage`)
	if err != nil {
		return fmt.Errorf("adapt postgres: query app usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec := adapt.Record{Kind: adapt.KindAppUsage}
		var bucket string
		var count int64
		if err := rows.Scan(&rec.App, &bucket, &count, &rec.At); err != nil {
			return fmt.Errorf("adapt postgres: scan app usage: %w", err)
		}
		rec.Bucket = adapt.Bucket(bucket)
		rec.Count = int(count)
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("adapt postgres: read app usage: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
