// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research drives a session through planning, research, analysis
// and synthesis, publishing an event at every stage.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/dedup"
	"github.com/pdiddy/deep-research/internal/executor"
	"github.com/pdiddy/deep-research/internal/llm"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/perspective"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/tree"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Progress milestones reported at the end of each stage.
const (
	progressPlanning     = 10
	progressPerspectives = 20
	progressTree         = 25
	progressResearchEnd  = 75
	progressAnalysis     = 80
	progressDeduplicated = 90
)

var (
	ErrClarificationPending = errors.New("session is waiting for clarification")
	errPauseTimeout         = errors.New("no listener returned before the pause timeout")
	errNoSources            = errors.New("no sources found")
)

// RunOptions tune one execution.
type RunOptions struct {
	// PauseWhenUnwatched pauses the run between steps while the session
	// has no listeners and cancels it after the pause timeout.
	PauseWhenUnwatched bool
}

// Engine executes sessions owned by a session.Manager.
type Engine struct {
	sessions *session.Manager
	executor *executor.Executor
	llm      llm.Client
	settings types.EngineSettings
	logger   *zap.Logger
}

// NewEngine wires an Engine. A nil client disables every model-backed
// stage in favour of its fallback.
func NewEngine(sessions *session.Manager, exec *executor.Executor, client llm.Client, settings types.EngineSettings, logger *zap.Logger) *Engine {
	if client == nil {
		client = llm.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.PauseTimeout <= 0 {
		settings.PauseTimeout = 2 * time.Minute
	}
	if settings.SynthesisSources <= 0 {
		settings.SynthesisSources = 15
	}
	return &Engine{sessions: sessions, executor: exec, llm: client, settings: settings, logger: logger}
}

// Client returns the model client for a session, honouring its model
// override.
func (e *Engine) Client(s *types.ResearchSession) llm.Client {
	return llm.WithModel(e.llm, s.Config.Model)
}

// Questions generates the clarifying questions for a session in the
// clarifying state and stores them on it.
func (e *Engine) Questions(ctx context.Context, id string) ([]types.ClarificationQuestion, error) {
	s, ok := e.sessions.GetSession(ctx, id)
	if !ok {
		return nil, session.ErrNotFound
	}
	if len(s.Clarification.Questions) > 0 {
		return s.Clarification.Questions, nil
	}
	qs := perspective.NewGenerator(e.Client(s), e.logger).ClarifyingQuestions(ctx, s.Topic)
	if err := e.sessions.SetQuestions(ctx, id, qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// Start executes the session in the background. It returns once the run
// is registered, or with an error when the session cannot run.
func (e *Engine) Start(id string, opts RunOptions) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := e.begin(ctx, id, cancel); err != nil {
		cancel()
		return err
	}
	go func() {
		defer cancel()
		e.execute(ctx, id, opts)
	}()
	return nil
}

// Run executes the session and returns its final state. The returned
// error is non-nil when the session did not complete.
func (e *Engine) Run(ctx context.Context, id string, opts RunOptions) (*types.ResearchSession, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.begin(ctx, id, cancel); err != nil {
		return nil, err
	}
	err := e.execute(ctx, id, opts)
	s, _ := e.sessions.GetSession(context.Background(), id)
	return s, err
}

// Running reports whether the session is executing.
func (e *Engine) Running(id string) bool { return e.sessions.Running(id) }

func (e *Engine) begin(ctx context.Context, id string, cancel context.CancelFunc) error {
	s, ok := e.sessions.GetSession(ctx, id)
	if !ok {
		return session.ErrNotFound
	}
	if s.Status == types.StatusClarifying {
		return ErrClarificationPending
	}
	return e.sessions.BeginRun(ctx, id, cancel)
}

// runState carries one execution.
type runState struct {
	e      *Engine
	id     string
	opts   RunOptions
	s      *types.ResearchSession
	client llm.Client
	logger *zap.Logger
}

func (e *Engine) execute(ctx context.Context, id string, opts RunOptions) error {
	defer e.sessions.EndRun(id)

	s, ok := e.sessions.GetSession(ctx, id)
	if !ok {
		return session.ErrNotFound
	}
	r := &runState{
		e:      e,
		id:     id,
		opts:   opts,
		s:      s,
		client: e.Client(s),
		logger: e.logger.With(zap.String("session_id", id)),
	}
	r.logger.Info("research started", zap.String("topic", s.Topic), zap.String("mode", string(s.Mode)))

	result, err := r.run(ctx)
	if err != nil {
		return r.terminate(err)
	}
	r.e.sessions.Emit(id, types.EventComplete, types.CompletePayload{Result: result})
	r.logger.Info("research complete",
		zap.Int("sources", len(result.Sources)),
		zap.Int("duplicates", result.DuplicateCount))
	return nil
}

func (r *runState) run(ctx context.Context) (*types.ResearchResult, error) {
	m := r.e.sessions
	cfg := r.s.Config

	// Planning.
	start := time.Now()
	if err := r.progress(ctx, progressPlanning); err != nil {
		return nil, err
	}
	m.Emit(r.id, types.EventStatus, types.StatusPayload{Status: types.StatusPlanning, Progress: progressPlanning, Message: "planning research"})
	current, _ := m.GetSession(ctx, r.id)
	m.Emit(r.id, types.EventSessionCreated, types.SessionCreatedPayload{Session: current})

	ps, err := perspective.NewGenerator(r.client, r.logger).GeneratePerspectives(ctx, r.s.Topic, cfg, r.s.Clarification.Answers...)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, errors.New("no perspectives generated")
	}
	if err := m.UpdateResult(ctx, r.id, func(res *types.ResearchResult) { res.Perspectives = ps }); err != nil {
		return nil, err
	}
	m.Emit(r.id, types.EventPerspectivesGenerated, types.PerspectivesPayload{Perspectives: ps, Fallback: perspective.IsFallback(ps)})
	if err := r.progress(ctx, progressPerspectives); err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}

	t := tree.Build(r.s.Topic, ps, cfg.Depth, cfg.Breadth)
	snapshot := tree.Clone(t)
	if err := m.UpdateResult(ctx, r.id, func(res *types.ResearchResult) { res.Tree = snapshot }); err != nil {
		return nil, err
	}
	m.Emit(r.id, types.EventTreeBuilt, types.TreeBuiltPayload{Tree: snapshot})
	if err := r.progress(ctx, progressTree); err != nil {
		return nil, err
	}
	metrics.ObserveStage("planning", start)
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}

	// Research.
	start = time.Now()
	if err := m.Transition(ctx, r.id, types.StatusResearching, fmt.Sprintf("searching %d queries", t.TotalNodes-1)); err != nil {
		return nil, err
	}
	ectx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	raw, err := r.e.executor.ExecuteResearch(ectx, t, cfg, func(p types.Progress, n *types.ExplorationNode) {
		if n.Status == types.NodeActive {
			return
		}
		pct := progressTree
		if p.TotalNodes > 0 {
			pct += (progressResearchEnd - progressTree) * p.NodesExplored / p.TotalNodes
		}
		pct, _ = m.SetProgress(ctx, r.id, pct)
		m.Emit(r.id, types.EventProgress, types.ProgressPayload{Progress: p, Percent: pct, NodeID: n.ID})
		// Blocking here holds back the other branches until a listener returns.
		if err := r.checkpoint(ectx); err != nil {
			stop(err)
		}
	})
	if err != nil {
		if cause := context.Cause(ectx); cause != nil && ctx.Err() == nil {
			return nil, cause
		}
		return nil, err
	}
	snapshot = tree.Clone(t)
	if err := m.UpdateResult(ctx, r.id, func(res *types.ResearchResult) { res.Tree = snapshot }); err != nil {
		return nil, err
	}
	metrics.ObserveStage("research", start)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: every search backend (%s) failed or returned nothing for all %d queries",
			errNoSources, strings.Join(cfg.Sources, ", "), t.TotalNodes-1)
	}
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}

	// Analysis.
	start = time.Now()
	if err := m.Transition(ctx, r.id, types.StatusAnalysis, "deduplicating sources"); err != nil {
		return nil, err
	}
	if err := r.progress(ctx, progressAnalysis); err != nil {
		return nil, err
	}
	dr := dedup.DeduplicateSources(raw)
	metrics.DuplicatesRemoved.Add(float64(dr.DuplicateCount))
	m.Emit(r.id, types.EventSourcesDeduplicated, types.DeduplicatedPayload{
		Total:          len(raw),
		Unique:         len(dr.Deduplicated),
		DuplicateCount: dr.DuplicateCount,
	})
	if err := r.progress(ctx, progressDeduplicated); err != nil {
		return nil, err
	}
	metrics.ObserveStage("analysis", start)
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}

	// Synthesis.
	start = time.Now()
	if err := m.Transition(ctx, r.id, types.StatusSynthesis, "writing synthesis"); err != nil {
		return nil, err
	}
	result := &types.ResearchResult{
		Perspectives:   ps,
		Tree:           snapshot,
		Sources:        dr.Deduplicated,
		DuplicateCount: dr.DuplicateCount,
	}
	result.Synthesis = r.e.synthesize(ctx, r.client, r.s.Topic, result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.ObserveStage("synthesis", start)
	if err := m.Complete(ctx, r.id, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *runState) progress(ctx context.Context, p int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.e.sessions.SetProgress(ctx, r.id, p)
	return err
}

// checkpoint returns ctx's error once cancelled. When the run pauses for
// listeners it waits here until one subscribes or the pause times out.
func (r *runState) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := r.e.sessions
	if !r.opts.PauseWhenUnwatched || m.Bus().ListenerCount(r.id) > 0 {
		return nil
	}

	r.logger.Info("no listeners, pausing", zap.Duration("timeout", r.e.settings.PauseTimeout))
	if err := m.SetPaused(ctx, r.id, true); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, r.e.settings.PauseTimeout)
	defer cancel()
	err := m.Bus().WaitListener(wctx, r.id)
	if perr := m.SetPaused(context.Background(), r.id, false); perr != nil {
		r.logger.Warn("clearing paused flag", zap.Error(perr))
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return errPauseTimeout
	}
	r.logger.Info("listener returned, resuming")
	return nil
}

// terminate records how the run ended and publishes its terminal event.
func (r *runState) terminate(err error) error {
	ctx := context.Background()
	m := r.e.sessions

	if errors.Is(err, errPauseTimeout) {
		r.logger.Info("pause timed out, cancelling session")
		if cerr := m.CancelSession(ctx, r.id); cerr != nil {
			r.logger.Warn("cancelling paused session", zap.Error(cerr))
		}
		m.Emit(r.id, types.EventError, types.ErrorPayload{Message: "session cancelled: " + err.Error(), Status: types.StatusCancelled})
		return err
	}

	current, ok := m.GetSession(ctx, r.id)
	if ok && current.Status == types.StatusCancelled {
		r.logger.Info("research cancelled")
		m.Emit(r.id, types.EventError, types.ErrorPayload{Message: "session cancelled", Status: types.StatusCancelled})
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller's context ended without an explicit cancel.
		if cerr := m.CancelSession(ctx, r.id); cerr != nil {
			r.logger.Warn("cancelling session", zap.Error(cerr))
		}
		m.Emit(r.id, types.EventError, types.ErrorPayload{Message: "session cancelled: " + err.Error(), Status: types.StatusCancelled})
		return err
	}

	msg := err.Error()
	if ferr := m.Fail(ctx, r.id, msg); ferr != nil {
		r.logger.Warn("marking session failed", zap.Error(ferr))
	}
	r.logger.Error("research failed", zap.Error(err))
	m.Emit(r.id, types.EventError, types.ErrorPayload{Message: msg, Status: types.StatusFailed})
	return err
}
