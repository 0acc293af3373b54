package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists dispatch history in MySQL, for deployments where
// several processes share one dispatch history. The DSN is the usual
// go-sql-driver form, parseTime required:
//
//	user:pass@tcp(localhost:3306)/schedula?parseTime=true
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects, verifies the connection and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_solutions (
			run_id     VARCHAR(64) PRIMARY KEY,
			dispatcher VARCHAR(255) NOT NULL,
			payload    JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_solutions_dispatcher (dispatcher, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS dispatch_layouts (
			name       VARCHAR(255) PRIMARY KEY,
			payload    MEDIUMBLOB NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate mysql schema: %w", err)
		}
	}
	return nil
}

// SaveSolution upserts the record as a JSON payload.
func (s *MySQLStore) SaveSolution(ctx context.Context, rec Record) error {
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
		ON DUPLICATE KEY UPDATE
			dispatcher = VALUES(dispatcher),
			payload    = VALUES(payload),
			created_at = VALUES(created_at)`,
		rec.RunID, rec.Dispatcher, payload, rec.CreatedAt.UTC())
	return err
}

// LoadSolution retrieves a record by run id.
func (s *MySQLStore) LoadSolution(ctx context.Context, runID string) (Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM dispatch_solutions WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record %q: %w", runID, err)
	}
	return rec, nil
}

// ListSolutions returns a model's records, newest first.
func (s *MySQLStore) ListSolutions(ctx context.Context, dispatcher string, limit int) ([]Record, error) {
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
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveLayout upserts a layout blob.
func (s *MySQLStore) SaveLayout(ctx context.Context, name string, layout []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_layouts (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload    = VALUES(payload),
			updated_at = VALUES(updated_at)`,
		name, layout, time.Now().UTC())
	return err
}

// LoadLayout retrieves a layout blob by name.
func (s *MySQLStore) LoadLayout(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM dispatch_layouts WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return payload, err
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }
