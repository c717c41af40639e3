// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// crossrefAPIBase is the CrossRef works endpoint. Declared as a var so
// tests can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org/works"

// CrossRefBackend queries the CrossRef REST API.
type CrossRefBackend struct {
	Client httputil.Doer
	// Mailto routes requests to the CrossRef polite pool.
	Mailto string
}

// Name returns the backend identifier.
func (b *CrossRefBackend) Name() string { return types.SourceCrossRef }

// Search queries CrossRef and returns results.
func (b *CrossRefBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error) {
	q := query.terms()
	if q == "" {
		return nil, fmt.Errorf("empty CrossRef query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxResults > 1000 {
		maxResults = 1000
	}

	params := url.Values{
		"query.bibliographic": {q},
		"rows":                {strconv.Itoa(maxResults)},
		"select":              {"DOI,title,author,abstract,container-title,issued,is-referenced-by-count,URL,type"},
	}
	if query.Author != "" {
		params.Set("query.author", query.Author)
	}
	if f := crossrefFilter(query); f != "" {
		params.Set("filter", f)
	}
	if b.Mailto != "" {
		params.Set("mailto", b.Mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, crossrefAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("CrossRef API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CrossRef API returned HTTP %d", resp.StatusCode)
	}

	var cr crossrefResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("parsing CrossRef response: %w", err)
	}

	total := len(cr.Message.Items)
	results := make([]types.Source, 0, total)
	for i, item := range cr.Message.Items {
		results = append(results, item.toSource(i, total))
	}
	return results, nil
}

func (w crossrefWork) toSource(i, total int) types.Source {
	r := types.Source{
		Abstract:       stripMarkup(w.Abstract),
		URL:            w.URL,
		DOI:            types.NormalizeDOI(w.DOI),
		CitationCount:  w.ReferencedBy,
		Origin:         types.SourceCrossRef,
		RelevanceScore: positionScore(i, total),
	}
	if len(w.Title) > 0 {
		r.Title = collapseSpace(w.Title[0])
	}
	if len(w.ContainerTitle) > 0 {
		r.Journal = w.ContainerTitle[0]
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		r.Year = w.Issued.DateParts[0][0]
	}
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			name = a.Name
		}
		if name != "" {
			r.Authors = append(r.Authors, name)
		}
	}
	return r
}

func crossrefFilter(q Query) string {
	var filters []string
	if !q.DateFrom.IsZero() {
		filters = append(filters, "from-pub-date:"+q.DateFrom.Format("2006-01-02"))
	}
	if !q.DateTo.IsZero() {
		filters = append(filters, "until-pub-date:"+q.DateTo.Format("2006-01-02"))
	}
	for _, t := range q.ArticleTypes {
		filters = append(filters, "type:"+strings.ToLower(strings.ReplaceAll(t, " ", "-")))
	}
	return strings.Join(filters, ",")
}

var markupTag = regexp.MustCompile(`<[^>]+>`)

// stripMarkup removes the JATS tags CrossRef embeds in abstracts.
func stripMarkup(s string) string {
	return collapseSpace(markupTag.ReplaceAllString(s, " "))
}

// CrossRef API JSON structures.
type crossrefResponse struct {
	Status  string          `json:"status"`
	Message crossrefMessage `json:"message"`
}

type crossrefMessage struct {
	TotalResults int            `json:"total-results"`
	Items        []crossrefWork `json:"items"`
}

type crossrefWork struct {
	DOI            string           `json:"DOI"`
	URL            string           `json:"URL"`
	Type           string           `json:"type"`
	Title          []string         `json:"title"`
	ContainerTitle []string         `json:"container-title"`
	Abstract       string           `json:"abstract"`
	Author         []crossrefAuthor `json:"author"`
	Issued         crossrefDate     `json:"issued"`
	ReferencedBy   int              `json:"is-referenced-by-count"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}
