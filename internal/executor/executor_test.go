// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/tree"
	"github.com/pdiddy/deep-research/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errDown = errors.New("backend down")

type fakeBackend struct {
	name    string
	per     int
	down    bool
	delay   time.Duration
	failFor map[string]bool
	calls   atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(ctx context.Context, q search.Query, cfg types.SearchConfig) ([]types.Source, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.down || f.failFor[q.FreeText] {
		return nil, errDown
	}
	n := min(f.per, cfg.MaxResults)
	out := make([]types.Source, n)
	for i := range out {
		out[i] = types.Source{Title: fmt.Sprintf("%s %s #%d", f.name, q.FreeText, i)}
	}
	return out, nil
}

func perspectives(n int) []types.Perspective {
	ps := make([]types.Perspective, n)
	for i := range ps {
		ps[i] = types.Perspective{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("angle %d", i)}
	}
	return ps
}

func setup(t *testing.T, backends ...search.Backend) *Executor {
	t.Helper()
	reg := search.NewRegistry()
	for _, b := range backends {
		reg.Register(b)
	}
	return New(reg, types.SearchConfig{MaxResults: 20}, zaptest.NewLogger(t))
}

func config(sources ...string) types.ResearchConfig {
	cfg := types.DefaultResearchConfig(types.ModeStandard)
	cfg.Sources = sources
	cfg.SourcesPerQuery = 5
	cfg.MaxSources = 1000
	return cfg
}

func TestExecuteResearchQueriesEveryNode(t *testing.T) {
	a := &fakeBackend{name: "pubmed", per: 3}
	b := &fakeBackend{name: "arxiv", per: 2}
	x := setup(t, a, b)
	tr := tree.Build("sleep and memory", perspectives(3), 2, 4)
	nodes := tree.Nodes(tr)

	var reports []types.Progress
	sources, err := x.ExecuteResearch(context.Background(), tr, config("pubmed", "arxiv"), func(p types.Progress, _ *types.ExplorationNode) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Len(t, sources, len(nodes)*5)
	assert.Equal(t, int32(len(nodes)), a.calls.Load())
	assert.Equal(t, int32(len(nodes)), b.calls.Load())

	ids := map[string]bool{}
	for _, s := range sources {
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.NodeID)
		assert.NotEmpty(t, s.Origin)
		ids[s.ID] = true
	}
	assert.Len(t, ids, len(sources))

	for _, n := range nodes {
		assert.Equal(t, types.NodeComplete, n.Status)
		assert.Equal(t, 5, n.SourceCount)
		assert.Len(t, n.Findings, maxFindings)
	}
	assert.Equal(t, tr.Root.Children[0].ID, sources[0].NodeID, "results are in tree order")

	last := reports[len(reports)-1]
	assert.Equal(t, len(nodes), last.NodesExplored)
	assert.Equal(t, len(nodes), last.TotalNodes)
	assert.Equal(t, 3, last.PerspectivesGenerated)
	assert.Equal(t, len(sources), last.SourcesFound)
}

func TestExecuteResearchProgressIsMonotonic(t *testing.T) {
	x := setup(t,
		&fakeBackend{name: "pubmed", per: 4, delay: time.Millisecond},
		&fakeBackend{name: "arxiv", per: 1},
	)
	tr := tree.Build("topic", perspectives(4), 3, 4)
	cfg := config("pubmed", "arxiv")
	cfg.FanOut = 8

	total := len(tree.Nodes(tr))
	var prev types.Progress
	calls := 0
	_, err := x.ExecuteResearch(context.Background(), tr, cfg, func(p types.Progress, _ *types.ExplorationNode) {
		calls++
		assert.GreaterOrEqual(t, p.NodesExplored, prev.NodesExplored)
		assert.GreaterOrEqual(t, p.SourcesFound, prev.SourcesFound)
		assert.Equal(t, total, p.TotalNodes)
		prev = p
	})
	require.NoError(t, err)
	assert.Equal(t, 2*total, calls, "one active and one finished report per node")
}

func TestExecuteResearchToleratesBackendFailure(t *testing.T) {
	good := &fakeBackend{name: "pubmed", per: 2}
	bad := &fakeBackend{name: "arxiv", down: true}
	x := setup(t, good, bad)
	tr := tree.Build("topic", perspectives(2), 1, 2)

	sources, err := x.ExecuteResearch(context.Background(), tr, config("pubmed", "arxiv"), nil)
	require.NoError(t, err)
	assert.Len(t, sources, 4)
	for _, s := range sources {
		assert.Equal(t, "pubmed", s.Origin)
	}
}

func TestExecuteResearchNodeWithAllBackendsFailing(t *testing.T) {
	tr := tree.Build("topic", perspectives(2), 1, 2)
	failing := tr.Root.Children[0].Query
	a := &fakeBackend{name: "pubmed", per: 2, failFor: map[string]bool{failing: true}}
	b := &fakeBackend{name: "arxiv", per: 1, failFor: map[string]bool{failing: true}}
	x := setup(t, a, b)

	sources, err := x.ExecuteResearch(context.Background(), tr, config("pubmed", "arxiv"), nil)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
	assert.Equal(t, types.NodeFailed, tr.Root.Children[0].Status)
	assert.Equal(t, 0, tr.Root.Children[0].SourceCount)
	assert.Equal(t, types.NodeComplete, tr.Root.Children[1].Status)
}

func TestExecuteResearchAllBackendsDown(t *testing.T) {
	x := setup(t, &fakeBackend{name: "pubmed", down: true})
	tr := tree.Build("topic", perspectives(2), 2, 2)

	sources, err := x.ExecuteResearch(context.Background(), tr, config("pubmed"), nil)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestExecuteResearchMaxSourcesCap(t *testing.T) {
	a := &fakeBackend{name: "pubmed", per: 5}
	x := setup(t, a)
	tr := tree.Build("topic", perspectives(4), 2, 4)
	cfg := config("pubmed")
	cfg.MaxSources = 12
	cfg.FanOut = 1

	var last types.Progress
	sources, err := x.ExecuteResearch(context.Background(), tr, cfg, func(p types.Progress, _ *types.ExplorationNode) { last = p })
	require.NoError(t, err)
	assert.Len(t, sources, 12)
	assert.Equal(t, int32(3), a.calls.Load(), "nodes after the cap are not queried")
	assert.Equal(t, len(tree.Nodes(tr)), last.NodesExplored)
	assert.Equal(t, 12, last.SourcesFound)
}

func TestExecuteResearchAllowList(t *testing.T) {
	a := &fakeBackend{name: "pubmed", per: 1}
	b := &fakeBackend{name: "arxiv", per: 1}
	x := setup(t, a, b)
	tr := tree.Build("topic", perspectives(2), 1, 2)

	_, err := x.ExecuteResearch(context.Background(), tr, config("arxiv", "crossref"), nil)
	require.NoError(t, err)
	assert.Zero(t, a.calls.Load())
	assert.Equal(t, int32(2), b.calls.Load())

	_, err = x.ExecuteResearch(context.Background(), tr, config("crossref"), nil)
	assert.Error(t, err)
}

func TestExecuteResearchCancelled(t *testing.T) {
	a := &fakeBackend{name: "pubmed", per: 3, delay: 200 * time.Millisecond}
	x := setup(t, a)
	tr := tree.Build("topic", perspectives(4), 2, 4)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	sources, err := x.ExecuteResearch(ctx, tr, config("pubmed"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sources)
}

func TestExecuteResearchPassesFilters(t *testing.T) {
	var got search.Query
	rec := &recordingBackend{fn: func(q search.Query) { got = q }}
	x := setup(t, rec)
	tr := tree.Build("topic", perspectives(2), 1, 2)
	cfg := config("recording")
	cfg.FanOut = 1
	cfg.DateFrom = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.ArticleTypes = []string{"Review"}

	_, err := x.ExecuteResearch(context.Background(), tr, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 2020, got.DateFrom.Year())
	assert.Equal(t, []string{"Review"}, got.ArticleTypes)
	assert.Equal(t, 5, rec.maxResults)
}

type recordingBackend struct {
	fn         func(search.Query)
	maxResults int
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Search(_ context.Context, q search.Query, cfg types.SearchConfig) ([]types.Source, error) {
	r.fn(q)
	r.maxResults = cfg.MaxResults
	return nil, nil
}
