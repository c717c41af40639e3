// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/deep-research/internal/discovery"
	"github.com/pdiddy/deep-research/internal/executor"
	"github.com/pdiddy/deep-research/internal/library"
	"github.com/pdiddy/deep-research/internal/research"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

type cannedLLM struct{}

func (cannedLLM) Complete(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "expert perspectives"):
		return `{"perspectives": [{"name": "Clinical", "queries": ["ai radiology clinical"]}, {"name": "Economic", "queries": ["ai radiology cost"]}]}`, nil
	case strings.Contains(prompt, "summary section"):
		return "Summary [1].", nil
	case strings.Contains(prompt, "questions"):
		return `{"questions": ["Which modality?", "Which population?"]}`, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

type fakeBackend struct{ name string }

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) Search(_ context.Context, q search.Query, _ types.SearchConfig) ([]types.Source, error) {
	return []types.Source{
		{Title: "Shared paper", DOI: "10.1/shared", Year: 2021, CitationCount: 10, Authors: []string{"Smith J"}},
		{Title: b.name + " " + q.FreeText, Year: 2023, Authors: []string{"Lee K"}},
	}, nil
}

type harness struct {
	srv   *httptest.Server
	mgr   *session.Manager
	store session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := session.NewMemoryStore()
	mgr := session.NewManager(store, streaming.NewBus(0, 0, logger), logger)
	reg := search.NewRegistry()
	reg.Register(fakeBackend{name: types.SourcePubMed})
	reg.Register(fakeBackend{name: types.SourceSemanticScholar})
	base := types.SearchConfig{MaxResults: 10}
	engine := research.NewEngine(mgr, executor.New(reg, base, logger), cannedLLM{},
		types.EngineSettings{PauseTimeout: 5 * time.Second, SynthesisSources: 5}, logger)
	lib, err := library.Open(types.LibraryConfig{Path: filepath.Join(t.TempDir(), "library.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	api := NewServer(mgr, engine, discovery.NewService(reg, base, logger), 50*time.Millisecond, logger).WithLibrary(lib)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, mgr: mgr, store: store}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// readEvents collects SSE event names until a terminal event or EOF.
func readEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	var names []string
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			if name == string(types.EventComplete) || name == string(types.EventError) {
				break
			}
		}
	}
	return names
}

func TestCreateQuickSession(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/research", CreateRequest{Topic: "AI in radiology", Mode: "quick", UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode[CreateResponse](t, resp)
	assert.NotEmpty(t, got.SessionID)
	assert.Equal(t, types.StatusPlanning, got.Status)
	assert.Empty(t, got.Questions)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/research", CreateRequest{Topic: "", Mode: "turbo", UserID: "u1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	var fields []string
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "topic")
	assert.Contains(t, fields, "mode")

	resp = h.do(t, http.MethodPost, "/api/research", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClarificationFlow(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/research", CreateRequest{Topic: "AI in radiology", Mode: "standard", UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[CreateResponse](t, resp)
	assert.Equal(t, types.StatusClarifying, created.Status)
	require.Len(t, created.Questions, 2)

	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/stream", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/clarify", ClarifyRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/clarify", ClarifyRequest{Answers: []string{"CT", "adults"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusPlanning, decode[CreateResponse](t, resp).Status)

	resp = h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/clarify", ClarifyRequest{Skip: true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/research/"+created.SessionID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/clarify", ClarifyRequest{Skip: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	created := decode[CreateResponse](t, h.do(t, http.MethodPost, "/api/research",
		CreateRequest{Topic: "AI in radiology", Mode: "quick", UserID: "u1"}))

	resp := h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/stream", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	names := readEvents(t, resp.Body)
	require.NotEmpty(t, names)
	assert.Equal(t, string(types.EventStatus), names[0])
	assert.Equal(t, string(types.EventComplete), names[len(names)-1])
	assert.Contains(t, names, string(types.EventSourcesDeduplicated))

	got := decode[types.ResearchSession](t, h.do(t, http.MethodGet, "/api/research/"+created.SessionID, nil))
	assert.Equal(t, types.StatusComplete, got.Status)
	assert.Equal(t, 100, got.Progress)

	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	md, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# AI in radiology")
	assert.Contains(t, string(md), "## References")

	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/report?format=bibtex", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bib, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(bib), "@article{Smith2021,")

	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/report?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A late subscriber gets the full history and the stream ends.
	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/stream", nil)
	assert.Equal(t, names, readEvents(t, resp.Body))
}

func TestStreamRestoredSession(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	require.NoError(t, h.store.Put(context.Background(), &types.ResearchSession{
		ID: "restored", UserID: "u1", Topic: "AI in radiology", Mode: types.ModeQuick,
		Status: types.StatusComplete, Progress: 100, CreatedAt: now, UpdatedAt: now,
		Result: &types.ResearchResult{Synthesis: "Done."},
	}))

	resp := h.do(t, http.MethodGet, "/api/research/restored/stream", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{string(types.EventComplete)}, readEvents(t, resp.Body))
}

func TestLegacyStreamingCreate(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/research", CreateRequest{Topic: "AI in radiology", Mode: "standard"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	names := readEvents(t, resp.Body)
	require.NotEmpty(t, names)
	assert.Equal(t, string(types.EventComplete), names[len(names)-1])
}

func TestGetAndDelete(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/api/research/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/research/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	created := decode[CreateResponse](t, h.do(t, http.MethodPost, "/api/research",
		CreateRequest{Topic: "AI in radiology", Mode: "quick", UserID: "u1"}))

	list := decode[map[string][]types.ResearchSession](t, h.do(t, http.MethodGet, "/api/research?userId=u1", nil))
	require.Len(t, list["sessions"], 1)
	assert.Equal(t, created.SessionID, list["sessions"][0].ID)

	resp = h.do(t, http.MethodDelete, "/api/research/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/research", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiscoveryRoutes(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/discovery/timeline", map[string]any{"topic": "AI radiology"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/discovery/timeline", map[string]any{"topic": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/discovery/nonsense", map[string]any{"topic": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestLibraryRoutes(t *testing.T) {
	h := newHarness(t)
	created := decode[CreateResponse](t, h.do(t, http.MethodPost, "/api/research",
		CreateRequest{Topic: "AI in radiology", Mode: "quick", UserID: "u1"}))

	resp := h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/library", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/research/"+created.SessionID+"/stream", nil)
	readEvents(t, resp.Body)

	resp = h.do(t, http.MethodPost, "/api/research/"+created.SessionID+"/library", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[library.SaveSummary](t, resp)
	assert.Positive(t, sum.Added)

	got := decode[map[string][]library.Entry](t, h.do(t, http.MethodGet, "/api/library?sessionId="+created.SessionID, nil))
	require.Len(t, got["entries"], sum.Added)
	assert.Equal(t, "doi:10.1/shared", got["entries"][0].Key)

	resp = h.do(t, http.MethodGet, "/api/library?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/library/export?format=csl", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Shared paper")

	resp = h.do(t, http.MethodDelete, "/api/library/doi:10.1/shared", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodDelete, "/api/library/doi:10.1/shared", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
