package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_checked INTEGER NOT NULL DEFAULT 0,
    revision INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS index_checked (
    package_id TEXT PRIMARY KEY,
    version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS index_entries (
    package_id TEXT NOT NULL,
    state TEXT NOT NULL CHECK (state IN ('response', 'no_update')),
    slug TEXT,
    plugin TEXT,
    new_version TEXT,
    url TEXT,
    package TEXT,
    PRIMARY KEY (package_id, state)
);

CREATE INDEX IF NOT EXISTS idx_entries_state ON index_entries(state);
`

const (
	stateResponse = "response"
	stateNoUpdate = "no_update"
)

// SQLiteIndex keeps the update index in a SQLite database.
// Every read-modify-write runs inside one transaction.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the database at dbPath.
// Use ":memory:" for in-memory databases (useful for testing).
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load reads the index. It returns ErrIndexAbsent when nothing was stored yet.
func (s *SQLiteIndex) Load(ctx context.Context) (*Index, error) {
	return s.load(ctx, s.db)
}

func (s *SQLiteIndex) load(ctx context.Context, q queryer) (*Index, error) {
	var lastChecked, revision int64
	err := q.QueryRowContext(ctx, "SELECT last_checked, revision FROM index_meta WHERE id = 1").
		Scan(&lastChecked, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndexAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index meta: %w", err)
	}

	ix := NewIndex()
	ix.Revision = revision
	if lastChecked != 0 {
		ix.LastChecked = time.Unix(0, lastChecked).UTC()
	}

	rows, err := q.QueryContext(ctx, "SELECT package_id, version FROM index_checked")
	if err != nil {
		return nil, fmt.Errorf("failed to read checked versions: %w", err)
	}
	for rows.Next() {
		var id, version string
		if err := rows.Scan(&id, &version); err != nil {
			rows.Close()
			return nil, err
		}
		ix.Checked[id] = version
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT package_id, state, COALESCE(slug, ''), COALESCE(plugin, ''),
		       COALESCE(new_version, ''), COALESCE(url, ''), COALESCE(package, '')
		FROM index_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e IndexEntry
		var state string
		if err := rows.Scan(&e.ID, &state, &e.Slug, &e.Plugin, &e.NewVersion, &e.URL, &e.Package); err != nil {
			return nil, err
		}
		if state == stateResponse {
			ix.Response[e.ID] = e
		} else {
			ix.NoUpdate[e.ID] = e
		}
	}
	return ix, rows.Err()
}

// Update applies fn inside a transaction and stores the result when fn
// reports a change.
func (s *SQLiteIndex) Update(ctx context.Context, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ix, err := s.load(ctx, tx)
	if err != nil {
		return err
	}

	changed, err := fn(ix)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	ix.Revision++
	if err := s.store(ctx, tx, ix); err != nil {
		return err
	}
	return tx.Commit()
}

// Replace overwrites the whole index, creating it when absent.
func (s *SQLiteIndex) Replace(ctx context.Context, ix *Index) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var revision int64
	if current, err := s.load(ctx, tx); err == nil {
		revision = current.Revision
	}

	out := ix.Clone()
	out.Revision = revision + 1
	if err := s.store(ctx, tx, out); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ix.Revision = out.Revision
	return nil
}

func (s *SQLiteIndex) store(ctx context.Context, tx *sql.Tx, ix *Index) error {
	var lastChecked int64
	if !ix.LastChecked.IsZero() {
		lastChecked = ix.LastChecked.UnixNano()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_meta (id, last_checked, revision) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_checked = excluded.last_checked, revision = excluded.revision`,
		lastChecked, ix.Revision); err != nil {
		return fmt.Errorf("failed to write index meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM index_checked"); err != nil {
		return err
	}
	for id, version := range ix.Checked {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO index_checked (package_id, version) VALUES (?, ?)", id, version); err != nil {
			return fmt.Errorf("failed to write checked version: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM index_entries"); err != nil {
		return err
	}
	insert := func(state string, e IndexEntry) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO index_entries (package_id, state, slug, plugin, new_version, url, package)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, state, e.Slug, e.Plugin, e.NewVersion, e.URL, e.Package)
		if err != nil {
			return fmt.Errorf("failed to write index entry %s: %w", e.ID, err)
		}
		return nil
	}
	for _, e := range ix.Response {
		if err := insert(stateResponse, e); err != nil {
			return err
		}
	}
	for _, e := range ix.NoUpdate {
		if err := insert(stateNoUpdate, e); err != nil {
			return err
		}
	}
	return nil
}
