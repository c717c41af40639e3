// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// sortableTime has a fixed width so created_at orders lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps sessions in a single table with the session JSON in a
// data column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.ResearchSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	var rs types.ResearchSession
	if err := json.Unmarshal([]byte(data), &rs); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &rs, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rs *types.ResearchSession) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", rs.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, status, created_at, updated_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		rs.ID, rs.UserID, string(rs.Status),
		rs.CreatedAt.UTC().Format(sortableTime),
		rs.UpdatedAt.UTC().Format(sortableTime),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("writing session %s: %w", rs.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]*types.ResearchSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions of %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*types.ResearchSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		var rs types.ResearchSession
		if err := json.Unmarshal([]byte(data), &rs); err != nil {
			return nil, fmt.Errorf("decoding session row: %w", err)
		}
		out = append(out, &rs)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
