// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search queries academic literature APIs and returns results as
// unified Source records.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrEmptyQuery is returned when a query carries no searchable terms.
var ErrEmptyQuery = errors.New("query is empty")

// Backend searches a single academic API. PubMed, arXiv, Semantic Scholar,
// CrossRef, and OpenAlex each implement it.
type Backend interface {
	Name() string
	Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error)
}

// Query holds the search parameters.
type Query struct {
	FreeText     string
	Author       string
	Keywords     []string
	DateFrom     time.Time
	DateTo       time.Time
	ArticleTypes []string
}

// IsEmpty reports whether the query contains no searchable terms.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.FreeText) == "" && q.Author == "" && len(q.Keywords) == 0
}

// terms joins the free-text fields into one search string.
func (q Query) terms() string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, q.FreeText)
	}
	if q.Author != "" {
		parts = append(parts, q.Author)
	}
	parts = append(parts, q.Keywords...)
	return strings.Join(parts, " ")
}

// Output holds merged results and the names of backends that failed.
type Output struct {
	Results       []types.Source
	DupsRemoved   int
	BackendErrors []string
}

// SearchAll fans the query out to every backend concurrently, merges the
// results, and ranks them by relevance. A failing backend is logged and
// skipped; SearchAll fails only when every backend fails.
func SearchAll(ctx context.Context, query Query, backends []Backend, cfg types.SearchConfig, logger *zap.Logger) (Output, error) {
	if query.IsEmpty() {
		return Output{}, ErrEmptyQuery
	}
	if len(backends) == 0 {
		return Output{}, fmt.Errorf("no search backends configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	type backendResult struct {
		name    string
		results []types.Source
		err     error
	}

	ch := make(chan backendResult, len(backends))
	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			results, err := b.Search(ctx, query, cfg)
			ch <- backendResult{name: b.Name(), results: results, err: err}
		}(b)
	}
	wg.Wait()
	close(ch)

	var all []types.Source
	var backendErrors []string
	for br := range ch {
		if br.err != nil {
			backendErrors = append(backendErrors, fmt.Sprintf("%s: %v", br.name, br.err))
			logger.Warn("search backend failed", zap.String("backend", br.name), zap.Error(br.err))
			continue
		}
		all = append(all, br.results...)
	}
	sort.Strings(backendErrors)

	if len(backendErrors) == len(backends) {
		return Output{BackendErrors: backendErrors}, fmt.Errorf("all %d search backends failed", len(backends))
	}

	merged, removed := mergeExact(all)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})
	if cfg.MaxResults > 0 && len(merged) > cfg.MaxResults {
		merged = merged[:cfg.MaxResults]
	}

	return Output{Results: merged, DupsRemoved: removed, BackendErrors: backendErrors}, nil
}

// mergeExact folds results that share a DOI, PMID, or normalized title.
// Records carrying different DOIs or PMIDs are never folded, even when
// their titles agree. Fuzzy matching is the dedup package's job; this pass
// only keeps the CLI listing readable.
func mergeExact(results []types.Source) ([]types.Source, int) {
	seen := make(map[string]int)
	var merged []types.Source
	removed := 0

	for _, r := range results {
		keys := exactKeys(r)
		idx := -1
		for _, k := range keys {
			if i, ok := seen[k]; ok && compatible(merged[i], r) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			mergeInto(&merged[idx], r)
			removed++
			keys = exactKeys(merged[idx])
		} else {
			idx = len(merged)
			merged = append(merged, r)
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = idx
			}
		}
	}
	return merged, removed
}

// compatible reports whether a and b carry no contradicting identifiers.
func compatible(a, b types.Source) bool {
	if da, db := a.NormalizedDOI(), b.NormalizedDOI(); da != "" && db != "" && da != db {
		return false
	}
	if a.PMID != "" && b.PMID != "" && a.PMID != b.PMID {
		return false
	}
	return true
}

func exactKeys(r types.Source) []string {
	var keys []string
	if doi := r.NormalizedDOI(); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if r.PMID != "" {
		keys = append(keys, "pmid:"+r.PMID)
	}
	if t := NormalizeTitle(r.Title); t != "" {
		keys = append(keys, "title:"+t)
	}
	return keys
}

// mergeInto fills empty fields of dst from src and keeps the higher score.
func mergeInto(dst *types.Source, src types.Source) {
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.DOI == "" {
		dst.DOI = src.DOI
	}
	if dst.PMID == "" {
		dst.PMID = src.PMID
	}
	if dst.Journal == "" {
		dst.Journal = src.Journal
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	if src.RelevanceScore > dst.RelevanceScore {
		dst.RelevanceScore = src.RelevanceScore
	}
	dst.Origin = JoinOrigins(dst.Origin, src.Origin)
}

// JoinOrigins merges two comma-separated backend tags without repeats.
func JoinOrigins(a, b string) string {
	if a == "" {
		return b
	}
	parts := strings.Split(a, ",")
	for _, o := range strings.Split(b, ",") {
		if o == "" {
			continue
		}
		found := false
		for _, p := range parts {
			if p == o {
				found = true
				break
			}
		}
		if !found {
			parts = append(parts, o)
		}
	}
	return strings.Join(parts, ",")
}

// NormalizeTitle returns a lowercased, punctuation-stripped version of the
// title with whitespace collapsed.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// positionScore gives the i-th of total results a relevance between 1.0
// and 0.1. Backends return results in relevance order.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

// FormatTable writes results as a human-readable table to w.
func FormatTable(out Output, w io.Writer) {
	if len(out.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-20s  %-4s  %-5s  %-6s  %s\n",
		"Rank", "Title", "Authors", "Year", "Cites", "Score", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 118))

	for i, r := range out.Results {
		year := ""
		if r.Year > 0 {
			year = fmt.Sprintf("%d", r.Year)
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-5d  %-6.2f  %s\n",
			i+1, truncate(r.Title, 60), formatAuthors(r.Authors), year, r.CitationCount, r.RelevanceScore, r.Origin)
	}

	fmt.Fprintf(w, "\n%d results", len(out.Results))
	if out.DupsRemoved > 0 {
		fmt.Fprintf(w, " (%d duplicates removed)", out.DupsRemoved)
	}
	fmt.Fprintln(w)
	for _, e := range out.BackendErrors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
