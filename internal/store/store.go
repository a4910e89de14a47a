// Package store persists selections per page URL in SQLite, so a host can
// hand back nothing but stable identifiers after a reload and have the
// selection rebuilt. The caller blank-imports modernc.org/sqlite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Schema is applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS selections (
	page_url   TEXT NOT NULL,
	element_id TEXT NOT NULL,
	xpath      TEXT NOT NULL,
	tag        TEXT NOT NULL DEFAULT '',
	saved_at   INTEGER NOT NULL,
	PRIMARY KEY (page_url, element_id)
);
CREATE INDEX IF NOT EXISTS idx_selections_page ON selections(page_url);
`

// Saved is one persisted selection entry.
type Saved struct {
	ID    string
	XPath string
	Tag   string
}

// Store is the persistence handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path with WAL and the usual
// production pragmas, and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenMemory opens an in-memory database for tests. MaxOpenConns(1)
// ensures every query hits the same in-memory database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Save replaces the persisted selection for pageURL with entries.
func (s *Store) Save(ctx context.Context, pageURL string, entries []Saved) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM selections WHERE page_url = ?`, pageURL); err != nil {
		return fmt.Errorf("store: clear page: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO selections (page_url, element_id, xpath, tag, saved_at) VALUES (?, ?, ?, ?, ?)`,
			pageURL, e.ID, e.XPath, e.Tag, now)
		if err != nil {
			return fmt.Errorf("store: insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the persisted selection for pageURL in saved order.
func (s *Store) Load(ctx context.Context, pageURL string) ([]Saved, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT element_id, xpath, tag FROM selections WHERE page_url = ? ORDER BY rowid`, pageURL)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	defer rows.Close()

	var out []Saved
	for rows.Next() {
		var e Saved
		if err := rows.Scan(&e.ID, &e.XPath, &e.Tag); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadIDs returns just the stable identifiers for pageURL, the shape a
// rebuild request wants.
func (s *Store) LoadIDs(ctx context.Context, pageURL string) ([]string, error) {
	saved, err := s.Load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(saved))
	for _, e := range saved {
		ids = append(ids, e.ID)
	}
	return ids, nil
}
