package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	corestore "github.com/omerlv/chargelink/core/store"
)

// PostgresStore persists snapshots as JSONB rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS snapshots (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        doc JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (collection, id)
    )`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM snapshots WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, corestore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (collection, id, doc, updated_at) VALUES ($1, $2, $3, $4)
         ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		collection, id, raw, time.Now())
	return err
}

// Patch merges shallowly in the database: jsonb concatenation overwrites
// top-level keys.
func (s *PostgresStore) Patch(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: encode patch %s/%s: %w", collection, id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (collection, id, doc, updated_at) VALUES ($1, $2, $3, $4)
         ON CONFLICT (collection, id) DO UPDATE SET doc = snapshots.doc || EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		collection, id, raw, time.Now())
	return err
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM snapshots WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ corestore.Store = (*PostgresStore)(nil)
