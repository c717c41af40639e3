// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// pubmedAPIBase is the NCBI E-utilities root. Declared as a var so tests
// can substitute an httptest server.
var pubmedAPIBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedBackend queries PubMed through the E-utilities esearch and
// esummary endpoints.
type PubMedBackend struct {
	Client httputil.Doer
	// APIKey raises the NCBI rate limit.
	APIKey string
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() string { return types.SourcePubMed }

// Search resolves the query to PMIDs with esearch, then fetches their
// summaries in one esummary call.
func (b *PubMedBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error) {
	term := buildPubMedTerm(query)
	if term == "" {
		return nil, fmt.Errorf("empty PubMed query")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(maxResults)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	if !query.DateFrom.IsZero() || !query.DateTo.IsZero() {
		params.Set("datetype", "pdat")
		params.Set("mindate", pubmedDate(query.DateFrom, "1800/01/01"))
		params.Set("maxdate", pubmedDate(query.DateTo, "3000/12/31"))
	}
	b.setKey(params)

	var es esearchResponse
	if err := b.getJSON(ctx, "esearch.fcgi", params, cfg, &es); err != nil {
		return nil, err
	}
	ids := es.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	params = url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}
	b.setKey(params)

	var sum esummaryResponse
	if err := b.getJSON(ctx, "esummary.fcgi", params, cfg, &sum); err != nil {
		return nil, err
	}

	results := make([]types.Source, 0, len(ids))
	for i, id := range ids {
		raw, ok := sum.Result[id]
		if !ok {
			continue
		}
		var doc pubmedSummary
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		results = append(results, doc.toSource(id, i, len(ids)))
	}
	return results, nil
}

func (b *PubMedBackend) setKey(params url.Values) {
	if b.APIKey != "" {
		params.Set("api_key", b.APIKey)
	}
}

func (b *PubMedBackend) getJSON(ctx context.Context, endpoint string, params url.Values, cfg types.SearchConfig, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pubmedAPIBase+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("PubMed %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("PubMed %s returned HTTP %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing PubMed %s response: %w", endpoint, err)
	}
	return nil
}

// buildPubMedTerm builds an E-utilities term with author and publication
// type clauses.
func buildPubMedTerm(q Query) string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, "("+q.FreeText+")")
	}
	if q.Author != "" {
		parts = append(parts, q.Author+"[au]")
	}
	for _, kw := range q.Keywords {
		parts = append(parts, "("+kw+")")
	}
	if len(parts) == 0 {
		return ""
	}
	if len(q.ArticleTypes) > 0 {
		pt := make([]string, len(q.ArticleTypes))
		for i, t := range q.ArticleTypes {
			pt[i] = `"` + t + `"[pt]`
		}
		parts = append(parts, "("+strings.Join(pt, " OR ")+")")
	}
	return strings.Join(parts, " AND ")
}

func pubmedDate(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format("2006/01/02")
}

func (d pubmedSummary) toSource(pmid string, i, total int) types.Source {
	r := types.Source{
		Title:          strings.TrimSuffix(collapseSpace(d.Title), "."),
		Journal:        d.FullJournalName,
		PMID:           pmid,
		URL:            "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
		Origin:         types.SourcePubMed,
		RelevanceScore: positionScore(i, total),
		Year:           leadingYear(d.PubDate),
	}
	if r.Journal == "" {
		r.Journal = d.Source
	}
	for _, a := range d.Authors {
		if a.AuthType == "" || a.AuthType == "Author" {
			r.Authors = append(r.Authors, a.Name)
		}
	}
	for _, aid := range d.ArticleIDs {
		if aid.IDType == "doi" {
			r.DOI = types.NormalizeDOI(aid.Value)
			break
		}
	}
	return r
}

// leadingYear parses the year from a PubMed pubdate such as "2021 Mar 4".
func leadingYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}

// E-utilities JSON structures.
type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedSummary struct {
	UID             string            `json:"uid"`
	Title           string            `json:"title"`
	PubDate         string            `json:"pubdate"`
	Source          string            `json:"source"`
	FullJournalName string            `json:"fulljournalname"`
	Authors         []pubmedAuthor    `json:"authors"`
	ArticleIDs      []pubmedArticleID `json:"articleids"`
	PubType         []string          `json:"pubtype"`
}

type pubmedAuthor struct {
	Name     string `json:"name"`
	AuthType string `json:"authtype"`
}

type pubmedArticleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}
