package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists dispatch history in a single-file SQLite database
// (":memory:" for an in-memory one). Zero setup: the schema is created on
// open and WAL mode keeps readers off the writer's back. The driver is
// pure Go, so the store works without cgo.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and, if needed, creates) the database at path and
// migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time is all SQLite supports anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS dispatch_solutions (
		run_id     TEXT PRIMARY KEY,
		dispatcher TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_solutions_dispatcher
		ON dispatch_solutions(dispatcher, created_at);
	CREATE TABLE IF NOT EXISTS dispatch_layouts (
		name       TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// SaveSolution upserts the record as a JSON payload.
func (s *SQLiteStore) SaveSolution(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %q: %w", rec.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dispatch_solutions (run_id, dispatcher, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			dispatcher = excluded.dispatcher,
			payload    = excluded.payload,
			created_at = excluded.created_at`,
		rec.RunID, rec.Dispatcher, string(payload), rec.CreatedAt.UTC())
	return err
}

// LoadSolution retrieves a record by run id.
func (s *SQLiteStore) LoadSolution(ctx context.Context, runID string) (Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM dispatch_solutions WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record %q: %w", runID, err)
	}
	return rec, nil
}

// ListSolutions returns a model's records, newest first.
func (s *SQLiteStore) ListSolutions(ctx context.Context, dispatcher string, limit int) ([]Record, error) {
	query := `SELECT payload FROM dispatch_solutions
		WHERE dispatcher = ? ORDER BY created_at DESC, run_id`
	args := []any{dispatcher}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveLayout upserts a layout blob.
func (s *SQLiteStore) SaveLayout(ctx context.Context, name string, layout []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_layouts (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at`,
		name, layout, time.Now().UTC())
	return err
}

// LoadLayout retrieves a layout blob by name.
func (s *SQLiteStore) LoadLayout(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM dispatch_layouts WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return payload, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
