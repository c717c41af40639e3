// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the deep-research
// orchestrator: sessions, perspectives, exploration trees, sources, and
// the events streamed to clients.
package types

import "strings"

// Source is a single paper or article record returned by a literature
// database query. Sources are immutable once fetched.
type Source struct {
	// ID is unique within a session (assigned when the source is fetched).
	ID string `json:"id" yaml:"id"`

	// Title is the paper title as returned by the database.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Year is the publication year; zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Journal is the venue (journal, conference, or "arXiv").
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// Abstract is the paper abstract or summary.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// URL points to the landing page of the record.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// DOI is the bare DOI (e.g. "10.1038/nature14539").
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// PMID is the PubMed identifier.
	PMID string `json:"pmid,omitempty" yaml:"pmid,omitempty"`

	// CitationCount is the number of citations reported by the database.
	CitationCount int `json:"citationCount" yaml:"citation_count"`

	// Origin identifies which database found this record (e.g. "pubmed",
	// "semantic_scholar"). Merged records carry a comma-joined list.
	Origin string `json:"origin" yaml:"origin"`

	// RelevanceScore is a value between 0.0 and 1.0 derived from the
	// result position within its query.
	RelevanceScore float64 `json:"relevanceScore" yaml:"relevance_score"`

	// NodeID is the exploration node whose query found the record.
	NodeID string `json:"nodeId,omitempty" yaml:"node_id,omitempty"`
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, p)
	}
	return strings.TrimSpace(d)
}

// NormalizedDOI returns the comparable form of s.DOI.
func (s Source) NormalizedDOI() string {
	return NormalizeDOI(s.DOI)
}

// Completeness counts the presence of title, abstract, and DOI.
func (s Source) Completeness() int {
	n := 0
	if strings.TrimSpace(s.Title) != "" {
		n++
	}
	if strings.TrimSpace(s.Abstract) != "" {
		n++
	}
	if s.NormalizedDOI() != "" {
		n++
	}
	return n
}

// FirstAuthor returns the first listed author or "".
func (s Source) FirstAuthor() string {
	if len(s.Authors) == 0 {
		return ""
	}
	return s.Authors[0]
}

// DedupResult is the outcome of collapsing duplicate sources.
type DedupResult struct {
	// Deduplicated contains one canonical record per underlying paper.
	Deduplicated []Source `json:"deduplicated"`

	// DuplicateCount is len(input) - len(Deduplicated).
	DuplicateCount int `json:"duplicateCount"`

	// DeduplicationMap maps every input source ID to its canonical ID.
	DeduplicationMap map[string]string `json:"deduplicationMap"`
}
