package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo toolchain required
)

// SQLiteStore persists Records in a SQLite database, for a controller that
// accumulates session history across many runs and wants queryable
// storage rather than one flat document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_path TEXT NOT NULL,
	transport TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	last_reason TEXT
);`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	var endedAt interface{}
	if !r.EndedAt.IsZero() {
		endedAt = r.EndedAt.Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, project_path, transport, started_at, ended_at, last_reason)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	project_path = excluded.project_path,
	transport = excluded.transport,
	started_at = excluded.started_at,
	ended_at = excluded.ended_at,
	last_reason = excluded.last_reason`,
		r.ID, r.ProjectPath, r.Transport, r.StartedAt.Format(time.RFC3339), endedAt, r.LastReason)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, project_path, transport, started_at, ended_at, last_reason FROM sessions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return r, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_path, transport, started_at, ended_at, last_reason FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var started string
	var ended, lastReason sql.NullString
	if err := row.Scan(&r.ID, &r.ProjectPath, &r.Transport, &started, &ended, &lastReason); err != nil {
		return Record{}, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	if ended.Valid {
		r.EndedAt, _ = time.Parse(time.RFC3339, ended.String)
	}
	r.LastReason = lastReason.String
	return r, nil
}
