// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package executor runs the queries of an exploration tree against the
// literature backends in parallel.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/tree"
	"github.com/pdiddy/deep-research/pkg/types"
)

// maxFindings is the number of top titles recorded on a node.
const maxFindings = 3

// ProgressFunc receives the aggregate counters after a node changes state.
// Calls are serialized; every counter is non-decreasing across calls. The
// tree may be read inside the callback but not retained.
type ProgressFunc func(p types.Progress, node *types.ExplorationNode)

// Executor fans tree queries out to the registered backends.
type Executor struct {
	registry *search.Registry
	base     types.SearchConfig
	logger   *zap.Logger
}

// New returns an Executor querying the backends in registry with the
// shared settings in base.
func New(registry *search.Registry, base types.SearchConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, base: base, logger: logger}
}

// run holds the state of one ExecuteResearch call.
type run struct {
	x          *Executor
	cfg        types.ResearchConfig
	scfg       types.SearchConfig
	backends   []search.Backend
	onProgress ProgressFunc

	mu       sync.Mutex
	progress types.Progress
	results  [][]types.Source
	found    int
}

// ExecuteResearch queries every non-root node of t against each backend
// allowed by cfg.Sources, at most cfg.FanOut nodes at a time. A failing
// backend contributes nothing for that node. Once cfg.MaxSources raw
// results are collected the remaining nodes complete without querying.
// Node status and source counts are written to t as nodes finish.
//
// Sources are returned in tree order. When ctx is cancelled, results of
// in-flight queries are discarded and ctx.Err() is returned.
func (x *Executor) ExecuteResearch(ctx context.Context, t *types.ExplorationTree, cfg types.ResearchConfig, onProgress ProgressFunc) ([]types.Source, error) {
	backends, err := x.allowed(cfg.Sources)
	if err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(types.Progress, *types.ExplorationNode) {}
	}

	nodes := tree.Nodes(t)
	r := &run{
		x:          x,
		cfg:        cfg,
		scfg:       cfg.SearchConfig(x.base),
		backends:   backends,
		onProgress: onProgress,
		results:    make([][]types.Source, len(nodes)),
	}
	r.progress.TotalNodes = len(nodes)
	if t != nil && t.Root != nil {
		r.progress.PerspectivesGenerated = len(t.Root.Children)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.FanOut))
	for i, n := range nodes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.explore(gctx, i, n)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []types.Source
	for _, rs := range r.results {
		out = append(out, rs...)
	}
	return out, nil
}

// allowed returns the registered backends named in sources. Names that
// are not registered are skipped.
func (x *Executor) allowed(sources []string) ([]search.Backend, error) {
	var names []string
	for _, s := range sources {
		if _, ok := x.registry.Get(s); ok {
			names = append(names, s)
		} else {
			x.logger.Warn("source not registered, skipping", zap.String("backend", s))
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no registered backend among %v", sources)
	}
	return x.registry.Select(names)
}

func (r *run) explore(ctx context.Context, idx int, n *types.ExplorationNode) error {
	r.mu.Lock()
	capped := r.found >= r.cfg.MaxSources
	if capped {
		n.Status = types.NodeComplete
		r.progress.NodesExplored++
		r.report(n)
		r.mu.Unlock()
		return nil
	}
	n.Status = types.NodeActive
	r.report(n)
	query := search.Query{
		FreeText:     n.Query,
		DateFrom:     r.cfg.DateFrom,
		DateTo:       r.cfg.DateTo,
		ArticleTypes: r.cfg.ArticleTypes,
	}
	r.mu.Unlock()

	sources, failed := r.query(ctx, query)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room := r.cfg.MaxSources - r.found; len(sources) > room {
		sources = sources[:max(0, room)]
	}
	for i := range sources {
		sources[i].ID = uuid.NewString()
		sources[i].NodeID = n.ID
	}
	r.results[idx] = sources
	r.found += len(sources)

	n.SourceCount = len(sources)
	n.Findings = nil
	for i := 0; i < len(sources) && i < maxFindings; i++ {
		n.Findings = append(n.Findings, sources[i].Title)
	}
	if failed == len(r.backends) {
		n.Status = types.NodeFailed
	} else {
		n.Status = types.NodeComplete
	}
	r.progress.NodesExplored++
	r.progress.SourcesFound = r.found
	r.report(n)
	return nil
}

// report must be called with r.mu held.
func (r *run) report(n *types.ExplorationNode) {
	r.onProgress(r.progress, n)
}

// query runs q on every backend concurrently and returns the results in
// backend order along with the number of backends that failed.
func (r *run) query(ctx context.Context, q search.Query) ([]types.Source, int) {
	results := make([][]types.Source, len(r.backends))
	errs := make([]error, len(r.backends))

	var wg sync.WaitGroup
	for i, b := range r.backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			results[i], errs[i] = b.Search(ctx, q, r.scfg)
			metrics.BackendLatency.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
		}()
	}
	wg.Wait()

	var out []types.Source
	failed := 0
	for i, b := range r.backends {
		if errs[i] != nil {
			failed++
			metrics.BackendErrors.WithLabelValues(b.Name()).Inc()
			if ctx.Err() == nil {
				r.x.logger.Warn("backend query failed",
					zap.String("backend", b.Name()),
					zap.String("query", q.FreeText),
					zap.Error(errs[i]))
			}
			continue
		}
		metrics.SourcesFound.WithLabelValues(b.Name()).Add(float64(len(results[i])))
		for _, s := range results[i] {
			if s.Origin == "" {
				s.Origin = b.Name()
			}
			out = append(out, s)
		}
	}
	return out, failed
}
