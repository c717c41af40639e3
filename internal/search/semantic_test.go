// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/deep-research/pkg/types"
)

const sampleSemanticJSON = `{
  "total": 2, "offset": 0,
  "data": [
    {
      "paperId": "abc123",
      "title": "Attention Is All You Need",
      "abstract": "The dominant sequence transduction models.",
      "year": 2017,
      "venue": "NeurIPS",
      "url": "https://www.semanticscholar.org/paper/abc123",
      "citationCount": 90000,
      "authors": [{"authorId": "1", "name": "Ashish Vaswani"}, {"authorId": "2", "name": "Noam Shazeer"}],
      "externalIds": {"DOI": "10.5555/3295222.3295349", "ArXiv": "1706.03762", "PubMed": "", "CorpusId": 13756489}
    },
    {
      "paperId": "def456",
      "title": "Metformin and Aging",
      "abstract": null,
      "year": null,
      "publicationDate": "2020-03-15",
      "citationCount": 12,
      "authors": [{"authorId": "3", "name": "Nir Barzilai"}],
      "externalIds": {"PubMed": "32183907"}
    }
  ]
}`

func semanticServer(t *testing.T, status int, body string, capture func(*http.Request)) func() {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			capture(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	old := semanticAPIBase
	semanticAPIBase = ts.URL
	return func() {
		semanticAPIBase = old
		ts.Close()
	}
}

func TestSemanticSearchRequestParams(t *testing.T) {
	var captured *http.Request
	done := semanticServer(t, http.StatusOK, `{"total":0,"offset":0,"data":[]}`, func(r *http.Request) { captured = r })
	defer done()

	cfg := testCfg()
	cfg.MaxResults = 15

	b := &SemanticScholarBackend{Client: http.DefaultClient}
	_, err := b.Search(context.Background(), Query{
		FreeText: "attention",
		DateFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
	}, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	q := captured.URL.Query()
	if got := q.Get("query"); got != "attention" {
		t.Errorf("query param = %q, want %q", got, "attention")
	}
	if got := q.Get("limit"); got != "15" {
		t.Errorf("limit param = %q, want %q", got, "15")
	}
	fields := q.Get("fields")
	for _, f := range []string{"title", "abstract", "authors", "externalIds", "year", "citationCount", "venue"} {
		if !strings.Contains(fields, f) {
			t.Errorf("fields param %q missing %q", fields, f)
		}
	}
	if got := q.Get("year"); got != "2020-2023" {
		t.Errorf("year param = %q, want %q", got, "2020-2023")
	}
}

func TestSemanticSearchAPIKeyHeader(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
	}{
		{"with API key", "test-key-123"},
		{"without API key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *http.Request
			done := semanticServer(t, http.StatusOK, `{"data":[]}`, func(r *http.Request) { captured = r })
			defer done()

			b := &SemanticScholarBackend{Client: http.DefaultClient, APIKey: tt.apiKey}
			if _, err := b.Search(context.Background(), Query{FreeText: "x"}, testCfg()); err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got := captured.Header.Get("x-api-key"); got != tt.apiKey {
				t.Errorf("x-api-key = %q, want %q", got, tt.apiKey)
			}
		})
	}
}

func TestSemanticSearchMapsFields(t *testing.T) {
	done := semanticServer(t, http.StatusOK, sampleSemanticJSON, nil)
	defer done()

	b := &SemanticScholarBackend{Client: http.DefaultClient}
	results, err := b.Search(context.Background(), Query{FreeText: "attention"}, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	r0 := results[0]
	if r0.DOI != "10.5555/3295222.3295349" || r0.CitationCount != 90000 || r0.Journal != "NeurIPS" || r0.Year != 2017 {
		t.Errorf("r0 = %+v", r0)
	}
	if r0.Origin != types.SourceSemanticScholar {
		t.Errorf("Origin = %q", r0.Origin)
	}
	if len(r0.Authors) != 2 || r0.Authors[0] != "Ashish Vaswani" {
		t.Errorf("Authors = %v", r0.Authors)
	}

	r1 := results[1]
	if r1.PMID != "32183907" {
		t.Errorf("PMID = %q, want 32183907", r1.PMID)
	}
	if r1.Year != 2020 {
		t.Errorf("Year = %d, want 2020 from publicationDate", r1.Year)
	}
	if r1.Abstract != "" {
		t.Errorf("Abstract = %q, want empty for null", r1.Abstract)
	}
	if r1.RelevanceScore >= r0.RelevanceScore {
		t.Errorf("position scores not descending: %v >= %v", r1.RelevanceScore, r0.RelevanceScore)
	}
}

func TestSemanticSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, ""},
		{"server error", http.StatusInternalServerError, ""},
		{"malformed json", http.StatusOK, `{"data": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := semanticServer(t, tt.status, tt.body, nil)
			defer done()

			b := &SemanticScholarBackend{Client: http.DefaultClient}
			if _, err := b.Search(context.Background(), Query{FreeText: "x"}, testCfg()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSemanticSearchEmptyQuery(t *testing.T) {
	b := &SemanticScholarBackend{Client: http.DefaultClient}
	if _, err := b.Search(context.Background(), Query{}, testCfg()); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestBuildYearRange(t *testing.T) {
	y := func(n int) time.Time { return time.Date(n, 1, 1, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		name     string
		from, to time.Time
		want     string
	}{
		{"both", y(2020), y(2023), "2020-2023"},
		{"from only", y(2020), time.Time{}, "2020-"},
		{"to only", time.Time{}, y(2023), "-2023"},
		{"neither", time.Time{}, time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildYearRange(tt.from, tt.to); got != tt.want {
				t.Errorf("buildYearRange() = %q, want %q", got, tt.want)
			}
		})
	}
}
