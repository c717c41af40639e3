// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,venue,citationCount,url,publicationDate"

// SemanticScholarBackend queries the Semantic Scholar API.
type SemanticScholarBackend struct {
	Client httputil.Doer
	APIKey string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return types.SourceSemanticScholar }

// Search queries the Semantic Scholar API and returns results.
func (b *SemanticScholarBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error) {
	q := query.terms()
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxResults > 100 {
		maxResults = 100
	}

	params := url.Values{
		"query":  {q},
		"limit":  {strconv.Itoa(maxResults)},
		"fields": {semanticFields},
	}
	if yr := buildYearRange(query.DateFrom, query.DateTo); yr != "" {
		params.Set("year", yr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	total := len(sr.Data)
	results := make([]types.Source, 0, total)
	for i, paper := range sr.Data {
		results = append(results, paper.toSource(i, total))
	}
	return results, nil
}

func (p semanticPaper) toSource(i, total int) types.Source {
	r := types.Source{
		Title:          p.Title,
		Abstract:       p.Abstract,
		Journal:        p.Venue,
		URL:            p.URL,
		DOI:            types.NormalizeDOI(p.ExternalIDs.DOI),
		PMID:           p.ExternalIDs.PubMed,
		CitationCount:  p.CitationCount,
		Origin:         types.SourceSemanticScholar,
		RelevanceScore: positionScore(i, total),
		Year:           p.Year,
	}
	if r.Year == 0 && p.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", p.PublicationDate); err == nil {
			r.Year = t.Year()
		}
	}
	for _, a := range p.Authors {
		r.Authors = append(r.Authors, a.Name)
	}
	return r
}

// buildYearRange returns a Semantic Scholar year filter string (e.g. "2020-2023").
func buildYearRange(from, to time.Time) string {
	switch {
	case !from.IsZero() && !to.IsZero():
		return fmt.Sprintf("%d-%d", from.Year(), to.Year())
	case !from.IsZero():
		return fmt.Sprintf("%d-", from.Year())
	case !to.IsZero():
		return fmt.Sprintf("-%d", to.Year())
	default:
		return ""
	}
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID         string              `json:"paperId"`
	Title           string              `json:"title"`
	Abstract        string              `json:"abstract"`
	Year            int                 `json:"year"`
	Venue           string              `json:"venue"`
	URL             string              `json:"url"`
	CitationCount   int                 `json:"citationCount"`
	PublicationDate string              `json:"publicationDate"`
	Authors         []semanticAuthor    `json:"authors"`
	ExternalIDs     semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	PubMed   string `json:"PubMed"`
	CorpusID int    `json:"CorpusId"`
}
