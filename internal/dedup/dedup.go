// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dedup collapses sources that describe the same paper into one
// canonical record.
//
// Two sources match when their DOIs agree, when (lacking DOIs) their PMIDs
// agree, or when their normalized titles are at least TitleSimilarity alike
// and their first authors and years do not contradict each other. Matches
// are grouped transitively with a union-find; a group never holds two
// different DOIs.
package dedup

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

// TitleSimilarity is the minimum normalized Levenshtein similarity for two
// titles to be treated as the same work.
const TitleSimilarity = 0.90

// maxYearGap is the largest publication-year difference tolerated between
// fuzzy matches (preprint versus journal version).
const maxYearGap = 1

// DeduplicateSources returns one canonical source per underlying paper, in order
// of first appearance, plus a map from every input ID to its canonical ID.
// The function is pure; applying it to its own output changes nothing.
func DeduplicateSources(sources []types.Source) types.DedupResult {
	n := len(sources)
	res := types.DedupResult{
		Deduplicated:     []types.Source{},
		DeduplicationMap: make(map[string]string, n),
	}
	if n == 0 {
		return res
	}

	keys := make([]matchKey, n)
	for i, s := range sources {
		keys[i] = newMatchKey(s)
	}

	uf := newUnionFind(keys)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if uf.find(i) == uf.find(j) {
				continue
			}
			if match, exact := sameWork(keys[i], keys[j]); match {
				uf.union(i, j, exact)
			}
		}
	}

	// Group members by root, ordered by first appearance.
	groups := make(map[int][]int)
	var roots []int
	for i := 0; i < n; i++ {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	for _, r := range roots {
		members := groups[r]
		canon := merge(sources, members, uf.doi[r], uf.pmid[r])
		res.Deduplicated = append(res.Deduplicated, canon)
		for _, m := range members {
			res.DeduplicationMap[sources[m].ID] = canon.ID
		}
	}
	res.DuplicateCount = n - len(res.Deduplicated)
	return res
}

// matchKey caches the comparable form of a source.
type matchKey struct {
	doi    string
	pmid   string
	title  string
	author string
	year   int
}

func newMatchKey(s types.Source) matchKey {
	return matchKey{
		doi:    s.NormalizedDOI(),
		pmid:   strings.TrimSpace(s.PMID),
		title:  search.NormalizeTitle(s.Title),
		author: surname(s.FirstAuthor()),
		year:   s.Year,
	}
}

// sameWork decides whether a and b are the same paper and whether the
// decision rests on a shared identifier. Identifiers are authoritative when
// both sides carry them; otherwise titles decide.
func sameWork(a, b matchKey) (match, exact bool) {
	if a.doi != "" && b.doi != "" {
		return a.doi == b.doi, true
	}
	if a.pmid != "" && b.pmid != "" {
		return a.pmid == b.pmid, true
	}
	return similarTitles(a, b), false
}

func similarTitles(a, b matchKey) bool {
	if a.title == "" || b.title == "" {
		return false
	}
	if a.author != "" && b.author != "" && a.author != b.author {
		return false
	}
	if a.year != 0 && b.year != 0 && abs(a.year-b.year) > maxYearGap {
		return false
	}
	if a.title == b.title {
		return true
	}

	la, lb := len([]rune(a.title)), len([]rune(b.title))
	longest := max(la, lb)
	// The edit distance is at least the length difference.
	if float64(abs(la-lb)) > (1-TitleSimilarity)*float64(longest) {
		return false
	}
	d := levenshtein.ComputeDistance(a.title, b.title)
	return 1-float64(d)/float64(longest) >= TitleSimilarity
}

// surname extracts a comparable family name from "Jane Smith", "Smith J",
// or "Smith, Jane".
func surname(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.Index(name, ","); i > 0 {
		return strings.ToLower(strings.TrimSpace(name[:i]))
	}
	fields := strings.Fields(name)
	last := fields[len(fields)-1]
	if len(fields) > 1 && isInitials(last) {
		return strings.ToLower(fields[len(fields)-2])
	}
	return strings.ToLower(last)
}

func isInitials(s string) bool {
	if len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// merge builds the canonical record of a group. The most-cited member wins,
// ties go to the most complete record and then to the earliest. Missing
// descriptive fields are filled from the other members; identity fields
// (title, authors, year) always come from the winner.
func merge(sources []types.Source, members []int, doi, pmid string) types.Source {
	best := members[0]
	for _, m := range members[1:] {
		if better(sources[m], sources[best]) {
			best = m
		}
	}
	canon := sources[best]
	canon.Authors = append([]string(nil), canon.Authors...)
	if doi != "" {
		canon.DOI = doi
	}
	if pmid != "" {
		canon.PMID = pmid
	}
	for _, m := range members {
		s := sources[m]
		if canon.Abstract == "" {
			canon.Abstract = s.Abstract
		}
		if canon.URL == "" {
			canon.URL = s.URL
		}
		if canon.Journal == "" {
			canon.Journal = s.Journal
		}
		if s.RelevanceScore > canon.RelevanceScore {
			canon.RelevanceScore = s.RelevanceScore
		}
		canon.Origin = search.JoinOrigins(canon.Origin, s.Origin)
	}
	return canon
}

func better(a, b types.Source) bool {
	if a.CitationCount != b.CitationCount {
		return a.CitationCount > b.CitationCount
	}
	return a.Completeness() > b.Completeness()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
