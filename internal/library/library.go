// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package library keeps the sources of completed research sessions in a
// SQLite database with a full-text index, so papers found once can be
// searched and exported across sessions.
//
// Sources are keyed by normalized DOI, then PMID, then normalized title
// and year. Saving the same paper again keeps one row and records every
// session that found it.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrNotComplete is returned when saving a session that has no result.
var ErrNotComplete = errors.New("session has no completed result")

// sortableTime has a fixed width so saved_at orders lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// Library manages the library database.
type Library struct {
	db         *sql.DB
	fts        bool
	maxResults int
	logger     *zap.Logger
	now        func() time.Time
}

// Open opens or creates the library database at cfg.Path. When the SQLite
// build lacks FTS5, text queries fall back to substring matching.
func Open(cfg types.LibraryConfig, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("library path is empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating library directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening library: %w", err)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	l := &Library{db: db, maxResults: maxResults, logger: logger, now: time.Now}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Close releases the database connection.
func (l *Library) Close() error {
	return l.db.Close()
}

// FullText reports whether text queries use the FTS5 index.
func (l *Library) FullText() bool { return l.fts }

func (l *Library) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			abstract TEXT,
			year INTEGER,
			citation_count INTEGER,
			origin TEXT,
			saved_at TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_sessions (
			key TEXT NOT NULL REFERENCES sources(key) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			topic TEXT,
			PRIMARY KEY (key, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_sessions_session ON source_sessions(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := l.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sources_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		l.fts = true
		return nil
	}

	ftsStatements := []string{
		`CREATE VIRTUAL TABLE sources_fts USING fts5(title, abstract, content=sources, content_rowid=rowid)`,
		`CREATE TRIGGER sources_ai AFTER INSERT ON sources BEGIN
			INSERT INTO sources_fts(rowid, title, abstract) VALUES (new.rowid, new.title, new.abstract);
		END`,
		`CREATE TRIGGER sources_ad AFTER DELETE ON sources BEGIN
			INSERT INTO sources_fts(sources_fts, rowid, title, abstract) VALUES('delete', old.rowid, old.title, old.abstract);
		END`,
		`CREATE TRIGGER sources_au AFTER UPDATE ON sources BEGIN
			INSERT INTO sources_fts(sources_fts, rowid, title, abstract) VALUES('delete', old.rowid, old.title, old.abstract);
			INSERT INTO sources_fts(rowid, title, abstract) VALUES (new.rowid, new.title, new.abstract);
		END`,
	}
	if _, err := l.db.Exec(ftsStatements[0]); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			l.logger.Warn("sqlite built without fts5, library search uses substring matching")
			return nil
		}
		return fmt.Errorf("creating FTS table: %w", err)
	}
	for _, stmt := range ftsStatements[1:] {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	l.fts = true
	return nil
}

// Key returns the identity a source is stored under.
func Key(s types.Source) string {
	if doi := s.NormalizedDOI(); doi != "" {
		return "doi:" + doi
	}
	if pmid := strings.TrimSpace(s.PMID); pmid != "" {
		return "pmid:" + pmid
	}
	return "title:" + search.NormalizeTitle(s.Title) + ":" + strconv.Itoa(s.Year)
}

// SaveSummary counts the outcome of a save.
type SaveSummary struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SaveSession stores the sources of a completed session. A paper already
// in the library keeps the record with the higher citation count and
// gains the session as another finder.
func (l *Library) SaveSession(ctx context.Context, s *types.ResearchSession) (SaveSummary, error) {
	var sum SaveSummary
	if s == nil || s.Result == nil || s.Status != types.StatusComplete {
		return sum, ErrNotComplete
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	saved := l.now().UTC().Format(sortableTime)
	for _, src := range s.Result.Sources {
		if strings.TrimSpace(src.Title) == "" {
			sum.Skipped++
			continue
		}
		key := Key(src)
		src.ID, src.NodeID = "", ""
		data, err := json.Marshal(src)
		if err != nil {
			return sum, fmt.Errorf("encoding source %q: %w", src.Title, err)
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM sources WHERE key = ?`, key).Scan(&exists); err != nil {
			return sum, fmt.Errorf("looking up %s: %w", key, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO sources (key, title, abstract, year, citation_count, origin, saved_at, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				title=excluded.title, abstract=excluded.abstract, year=excluded.year,
				citation_count=excluded.citation_count, origin=excluded.origin,
				saved_at=excluded.saved_at, data=excluded.data
			 WHERE excluded.citation_count >= sources.citation_count`,
			key, src.Title, src.Abstract, src.Year, src.CitationCount, src.Origin, saved, string(data))
		if err != nil {
			return sum, fmt.Errorf("upserting %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO source_sessions (key, session_id, topic) VALUES (?, ?, ?)`,
			key, s.ID, s.Topic); err != nil {
			return sum, fmt.Errorf("linking %s to session: %w", key, err)
		}

		if exists > 0 {
			sum.Updated++
		} else {
			sum.Added++
		}
	}
	if err := tx.Commit(); err != nil {
		return sum, fmt.Errorf("committing library save: %w", err)
	}
	l.logger.Info("saved session to library",
		zap.String("session_id", s.ID),
		zap.Int("added", sum.Added),
		zap.Int("updated", sum.Updated))
	return sum, nil
}

// Remove deletes a source by key.
func (l *Library) Remove(ctx context.Context, key string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM sources WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
