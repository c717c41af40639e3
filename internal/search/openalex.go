// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlexBackend queries the OpenAlex API.
type OpenAlexBackend struct {
	Client httputil.Doer
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return types.SourceOpenAlex }

// Search queries the OpenAlex API and returns results.
func (b *OpenAlexBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error) {
	searchText := query.terms()
	if searchText == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxResults > 200 {
		maxResults = 200
	}

	params := url.Values{
		"search":   {searchText},
		"per_page": {strconv.Itoa(maxResults)},
		"page":     {"1"},
	}
	if f := openAlexFilter(query); f != "" {
		params.Set("filter", f)
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	total := len(oar.Results)
	results := make([]types.Source, 0, total)
	for i, work := range oar.Results {
		results = append(results, work.toSource(i, total))
	}
	return results, nil
}

func (w openAlexWork) toSource(i, total int) types.Source {
	r := types.Source{
		Title:          w.Title,
		Abstract:       reconstructAbstract(w.AbstractInvertedIndex),
		Year:           w.PublicationYear,
		Journal:        w.PrimaryLocation.Source.DisplayName,
		URL:            w.PrimaryLocation.LandingPageURL,
		DOI:            types.NormalizeDOI(w.DOI),
		PMID:           pmidFromURL(w.IDs.PMID),
		CitationCount:  w.CitedByCount,
		Origin:         types.SourceOpenAlex,
		RelevanceScore: positionScore(i, total),
	}
	if r.URL == "" {
		r.URL = w.ID
	}
	for _, authorship := range w.Authorships {
		if authorship.Author.DisplayName != "" {
			r.Authors = append(r.Authors, authorship.Author.DisplayName)
		}
	}
	return r
}

func openAlexFilter(q Query) string {
	var filters []string
	if !q.DateFrom.IsZero() {
		filters = append(filters, "from_publication_date:"+q.DateFrom.Format("2006-01-02"))
	}
	if !q.DateTo.IsZero() {
		filters = append(filters, "to_publication_date:"+q.DateTo.Format("2006-01-02"))
	}
	if len(q.ArticleTypes) > 0 {
		kinds := make([]string, len(q.ArticleTypes))
		for i, t := range q.ArticleTypes {
			kinds[i] = strings.ToLower(strings.ReplaceAll(t, " ", "-"))
		}
		filters = append(filters, "type:"+strings.Join(kinds, "|"))
	}
	return strings.Join(filters, ",")
}

// pmidFromURL strips the PubMed URL prefix OpenAlex puts on ids.pmid.
func pmidFromURL(s string) string {
	s = strings.TrimSuffix(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationDate       string               `json:"publication_date"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	IDs                   openAlexIDs          `json:"ids"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
}

type openAlexIDs struct {
	OpenAlex string `json:"openalex"`
	DOI      string `json:"doi"`
	PMID     string `json:"pmid"`
}

type openAlexLocation struct {
	LandingPageURL string         `json:"landing_page_url"`
	Source         openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
