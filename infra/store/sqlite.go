// Package store provides the persistent implementations of
// core/store.Store: an embedded SQLite file for single-node deployments
// and PostgreSQL for shared ones. Both keep the snapshot model, one JSON
// document per collection/id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	corestore "github.com/omerlv/chargelink/core/store"
)

// SQLiteStore persists snapshots to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Concurrent writers on a file database otherwise trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS snapshots (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        doc TEXT NOT NULL,
        updated_at INTEGER NOT NULL,
        PRIMARY KEY (collection, id)
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM snapshots WHERE collection = ? AND id = ?`,
		collection, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corestore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (collection, id, doc, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (collection, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		collection, id, string(raw), time.Now().Unix())
	return err
}

func (s *SQLiteStore) Patch(ctx context.Context, collection, id string, fields map[string]any) error {
	existing, err := s.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, corestore.ErrNotFound) {
		return err
	}
	merged, err := corestore.MergePatch(existing, fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (collection, id, doc, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (collection, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		collection, id, string(merged), time.Now().Unix())
	return err
}

func (s *SQLiteStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM snapshots WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ corestore.Store = (*SQLiteStore)(nil)
