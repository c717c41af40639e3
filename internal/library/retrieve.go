// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/deep-research/pkg/types"
)

// QueryOptions holds parameters for library searches.
type QueryOptions struct {
	// Query is matched against titles and abstracts. Every word must match.
	Query string `json:"q,omitempty"`

	// SessionID keeps sources found by that session.
	SessionID string `json:"sessionId,omitempty"`

	// Origin keeps sources found by that backend.
	Origin string `json:"origin,omitempty"`

	// YearFrom and YearTo bound the publication year; zero is open.
	YearFrom int `json:"yearFrom,omitempty"`
	YearTo   int `json:"yearTo,omitempty"`

	// MaxResults limits result count. Zero uses the library default.
	MaxResults int `json:"limit,omitempty"`
}

// Entry is a stored source with its library metadata.
type Entry struct {
	types.Source `yaml:",inline"`
	Key          string    `json:"key" yaml:"key"`
	Sessions     []string  `json:"sessions" yaml:"sessions"`
	SavedAt      time.Time `json:"savedAt" yaml:"saved_at"`
}

// Search queries the library. Text queries are ranked by relevance,
// others by citation count.
func (l *Library) Search(ctx context.Context, opts QueryOptions) ([]Entry, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = l.maxResults
	}
	words := strings.Fields(opts.Query)
	useFTS := l.fts && len(words) > 0

	var (
		qb   strings.Builder
		args []any
	)
	const cols = `s.key, s.saved_at, s.data,
		(SELECT group_concat(ss.session_id) FROM source_sessions ss WHERE ss.key = s.key)`
	if useFTS {
		qb.WriteString(`SELECT ` + cols + `
			FROM sources_fts
			JOIN sources s ON s.rowid = sources_fts.rowid
			WHERE sources_fts MATCH ?`)
		args = append(args, ftsQuery(words))
	} else {
		qb.WriteString(`SELECT ` + cols + ` FROM sources s WHERE 1=1`)
		for _, w := range words {
			qb.WriteString(` AND (s.title LIKE ? OR s.abstract LIKE ?)`)
			pat := "%" + w + "%"
			args = append(args, pat, pat)
		}
	}

	if opts.SessionID != "" {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM source_sessions ss WHERE ss.key = s.key AND ss.session_id = ?)`)
		args = append(args, opts.SessionID)
	}
	if opts.Origin != "" {
		qb.WriteString(` AND s.origin LIKE ?`)
		args = append(args, "%"+opts.Origin+"%")
	}
	if opts.YearFrom > 0 {
		qb.WriteString(` AND s.year >= ?`)
		args = append(args, opts.YearFrom)
	}
	if opts.YearTo > 0 {
		qb.WriteString(` AND s.year <= ?`)
		args = append(args, opts.YearTo)
	}

	if useFTS {
		qb.WriteString(` ORDER BY sources_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY s.citation_count DESC, s.title`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := l.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying library: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			saved    string
			data     string
			sessions sql.NullString
		)
		if err := rows.Scan(&e.Key, &saved, &data, &sessions); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Source); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Key, err)
		}
		e.ID = e.Key
		e.SavedAt, _ = time.Parse(sortableTime, saved)
		if sessions.Valid && sessions.String != "" {
			e.Sessions = strings.Split(sessions.String, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ftsQuery quotes each word so user input cannot inject FTS5 syntax.
func ftsQuery(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
