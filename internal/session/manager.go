// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session owns research sessions: it validates and creates them,
// is the only writer of their status, persists every change through a
// Store, and publishes lifecycle events on the streaming bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyStarted    = errors.New("session execution already started")
)

// MaxTopicLength bounds the topic accepted by CreateSession.
const MaxTopicLength = 1000

// DefaultHistoryRetention is how long a finished session's events stay on
// the bus for replay unless SetHistoryRetention says otherwise.
const DefaultHistoryRetention = 10 * time.Minute

// Manager is safe for concurrent use.
//
// The manager caches the sessions it is working on. Only a session with a
// running execution is served from the cache; every other read goes
// through the store so that store expiry and deletion are honored. A
// session leaves the cache once it is terminal and its execution ended.
type Manager struct {
	store     Store
	bus       *streaming.Bus
	logger    *zap.Logger
	now       func() time.Time
	retention time.Duration
	afterFunc func(time.Duration, func())

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	// emit is held across a state change and its event so events leave
	// in the order the state changed.
	emit sync.Mutex

	mu      sync.Mutex
	s       *types.ResearchSession
	cancel  context.CancelFunc
	started bool
	running bool
}

// NewManager returns a Manager persisting to store and publishing on bus.
func NewManager(store Store, bus *streaming.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		bus:       bus,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultHistoryRetention,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		entries:   make(map[string]*entry),
	}
}

// SetHistoryRetention sets how long a finished session's events are kept
// for replay. Zero or less drops them as soon as the session is released.
func (m *Manager) SetHistoryRetention(d time.Duration) {
	m.retention = d
}

// Bus returns the event bus sessions publish on.
func (m *Manager) Bus() *streaming.Bus { return m.bus }

// CreateSession validates the request and stores a new session. The
// session starts in clarifying when its mode asks for clarification and
// in planning otherwise.
func (m *Manager) CreateSession(ctx context.Context, userID, topic, mode string, overrides *types.ConfigOverrides) (*types.ResearchSession, error) {
	var verr types.ValidationError
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		verr.Add("topic", "must not be empty")
	case len(topic) > MaxTopicLength:
		verr.Add("topic", fmt.Sprintf("must be at most %d characters", MaxTopicLength))
	}
	md, err := types.ParseMode(mode)
	if err != nil {
		verr.Add("mode", err.Error())
		md = types.ModeStandard
	}
	cfg, err := types.BuildResearchConfig(md, overrides)
	var cfgErr *types.ValidationError
	if errors.As(err, &cfgErr) {
		verr.Merge(*cfgErr)
	}
	if verr.HasErrors() {
		return nil, &verr
	}

	preset, _ := md.Preset()
	status := types.StatusPlanning
	if preset.Clarify {
		status = types.StatusClarifying
	}
	now := m.now()
	s := &types.ResearchSession{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		Topic:     topic,
		Mode:      md,
		Status:    status,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	m.mu.Lock()
	m.entries[s.ID] = &entry{s: s.Clone()}
	m.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues(string(md)).Inc()
	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("mode", string(md)),
		zap.String("status", string(status)))
	return s, nil
}

// entry returns the entry for id. An entry with a running execution comes
// straight from the cache. Otherwise the store is consulted first: a
// session the store no longer has is evicted, and a terminal session is
// returned without being cached.
func (m *Manager) entry(ctx context.Context, id string) (*entry, error) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e != nil && e.isRunning() {
		return e, nil
	}

	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) && e != nil {
			m.evict(id, e)
		}
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[id]; e != nil {
		return e, nil
	}
	e = &entry{s: s}
	if !s.Status.IsTerminal() {
		m.entries[id] = e
	}
	return e, nil
}

func (e *entry) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// evict drops e from the cache unless it runs or was replaced.
func (m *Manager) evict(id string, e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[id] != e {
		return false
	}
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return false
	}
	delete(m.entries, id)
	return true
}

// release evicts a terminal session whose execution has ended and forgets
// its events once the retention window passes.
func (m *Manager) release(id string) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	terminal := e.s.Status.IsTerminal()
	e.mu.Unlock()
	if !terminal || !m.evict(id, e) {
		return
	}
	if m.retention <= 0 {
		m.bus.Forget(id)
		return
	}
	m.afterFunc(m.retention, func() { m.forgetHistory(id) })
}

// forgetHistory drops the events of a released session. While a stream is
// still attached it tries again after another retention window.
func (m *Manager) forgetHistory(id string) {
	m.mu.Lock()
	_, cached := m.entries[id]
	m.mu.Unlock()
	if cached {
		return
	}
	if m.bus.ListenerCount(id) > 0 {
		m.afterFunc(m.retention, func() { m.forgetHistory(id) })
		return
	}
	m.bus.Forget(id)
	m.logger.Debug("session history forgotten", zap.String("session_id", id))
}

// GetSession returns a copy of the session, or false when id is unknown.
func (m *Manager) GetSession(ctx context.Context, id string) (*types.ResearchSession, bool) {
	e, err := m.entry(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("loading session", zap.String("session_id", id), zap.Error(err))
		}
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// ListSessions returns the sessions of userID, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*types.ResearchSession, error) {
	return m.store.ListByUser(ctx, userID)
}

// mutate applies fn to a copy of the session, persists it and installs it.
// When fn returns an error nothing changes. The entry's emit lock must be
// held by the caller.
func (m *Manager) mutate(ctx context.Context, e *entry, fn func(s *types.ResearchSession) error) (*types.ResearchSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	if err := m.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("storing session %s: %w", next.ID, err)
	}
	e.s = next
	return next.Clone(), nil
}

func (m *Manager) update(ctx context.Context, id string, fn func(s *types.ResearchSession) error) (*types.ResearchSession, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.emit.Lock()
	defer e.emit.Unlock()
	return m.mutate(ctx, e, fn)
}

func transition(s *types.ResearchSession, to types.Status) error {
	if !types.CanTransition(s.Status, to) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Transition moves the session one step along the workflow and publishes
// a status event carrying message.
func (m *Manager) Transition(ctx context.Context, id string, to types.Status, message string) error {
	e, err := m.entry(ctx, id)
	if err != nil {
		return err
	}
	e.emit.Lock()
	defer e.emit.Unlock()

	s, err := m.mutate(ctx, e, func(s *types.ResearchSession) error {
		return transition(s, to)
	})
	if err != nil {
		return err
	}
	m.publish(id, types.EventStatus, types.StatusPayload{Status: s.Status, Progress: s.Progress, Message: message})
	return nil
}

// Emit publishes an event for the session without changing its state.
func (m *Manager) Emit(id string, typ types.EventType, payload any) types.EngineEvent {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e != nil {
		e.emit.Lock()
		defer e.emit.Unlock()
	}
	return m.publish(id, typ, payload)
}

func (m *Manager) publish(id string, typ types.EventType, payload any) types.EngineEvent {
	return m.bus.Publish(types.NewEvent(id, typ, payload))
}

// SetProgress raises the session's progress to p, clamped to [current, 100],
// and returns the resulting value. Terminal sessions are left unchanged.
func (m *Manager) SetProgress(ctx context.Context, id string, p int) (int, error) {
	var out int
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		if !s.Status.IsTerminal() {
			s.Progress = min(max(p, s.Progress), 100)
		}
		out = s.Progress
		return nil
	})
	return out, err
}

// SetPaused records whether the run is waiting for a listener.
func (m *Manager) SetPaused(ctx context.Context, id string, paused bool) error {
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		s.Paused = paused
		return nil
	})
	return err
}

// SetQuestions stores the clarifying questions.
func (m *Manager) SetQuestions(ctx context.Context, id string, qs []types.ClarificationQuestion) error {
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		s.Clarification.Questions = append([]types.ClarificationQuestion(nil), qs...)
		return nil
	})
	return err
}

// UpdateResult lets the engine record intermediate results.
func (m *Manager) UpdateResult(ctx context.Context, id string, fn func(r *types.ResearchResult)) error {
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		if s.Result == nil {
			s.Result = &types.ResearchResult{}
		}
		fn(s.Result)
		return nil
	})
	return err
}

// AnswerClarification records the answers and moves the session to planning.
// It returns the updated session.
func (m *Manager) AnswerClarification(ctx context.Context, id string, answers []string) (*types.ResearchSession, error) {
	var clean []string
	for _, a := range answers {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		var verr types.ValidationError
		verr.Add("answers", "at least one non-empty answer is required")
		return nil, &verr
	}
	return m.leaveClarifying(ctx, id, func(c *types.Clarification) { c.Answers = clean })
}

// SkipClarification moves the session to planning without answers.
func (m *Manager) SkipClarification(ctx context.Context, id string) (*types.ResearchSession, error) {
	return m.leaveClarifying(ctx, id, func(c *types.Clarification) { c.Skipped = true })
}

func (m *Manager) leaveClarifying(ctx context.Context, id string, fn func(c *types.Clarification)) (*types.ResearchSession, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.emit.Lock()
	defer e.emit.Unlock()

	s, err := m.mutate(ctx, e, func(s *types.ResearchSession) error {
		if s.Status != types.StatusClarifying {
			return fmt.Errorf("%w: session is %s, not clarifying", ErrInvalidTransition, s.Status)
		}
		fn(&s.Clarification)
		return transition(s, types.StatusPlanning)
	})
	if err != nil {
		return nil, err
	}
	m.publish(id, types.EventStatus, types.StatusPayload{Status: s.Status, Progress: s.Progress, Message: "clarification received"})
	return s, nil
}

// Complete stores the result and marks a session in synthesis complete.
// The engine publishes the terminal event.
func (m *Manager) Complete(ctx context.Context, id string, result *types.ResearchResult) error {
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		if err := transition(s, types.StatusComplete); err != nil {
			return err
		}
		now := m.now()
		s.Progress = 100
		s.Paused = false
		s.Result = result
		s.CompletedAt = &now
		return nil
	})
	if err == nil {
		metrics.SessionsFinished.WithLabelValues(string(types.StatusComplete)).Inc()
		m.release(id)
	}
	return err
}

// Fail marks a non-terminal session failed with message.
func (m *Manager) Fail(ctx context.Context, id string, message string) error {
	_, err := m.update(ctx, id, func(s *types.ResearchSession) error {
		if err := transition(s, types.StatusFailed); err != nil {
			return err
		}
		now := m.now()
		s.Error = message
		s.Paused = false
		s.CompletedAt = &now
		return nil
	})
	if err == nil {
		metrics.SessionsFinished.WithLabelValues(string(types.StatusFailed)).Inc()
		m.logger.Warn("session failed", zap.String("session_id", id), zap.String("error", message))
		m.release(id)
	}
	return err
}

// CancelSession cancels a non-terminal session and its running execution.
// Cancelling a terminal session is a no-op.
func (m *Manager) CancelSession(ctx context.Context, id string) error {
	e, err := m.entry(ctx, id)
	if err != nil {
		return err
	}
	e.emit.Lock()
	defer e.emit.Unlock()

	var already bool
	s, err := m.mutate(ctx, e, func(s *types.ResearchSession) error {
		if s.Status.IsTerminal() {
			already = true
			return nil
		}
		now := m.now()
		s.Status = types.StatusCancelled
		s.Paused = false
		s.CompletedAt = &now
		return nil
	})
	if err != nil || already {
		return err
	}

	e.mu.Lock()
	cancel, running := e.cancel, e.running
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	metrics.SessionsFinished.WithLabelValues(string(types.StatusCancelled)).Inc()
	m.logger.Info("session cancelled", zap.String("session_id", id))
	m.publish(id, types.EventStatus, types.StatusPayload{Status: s.Status, Progress: s.Progress, Message: "cancelled"})
	if !running {
		// No execution will report the end of this session.
		m.publish(id, types.EventError, types.ErrorPayload{Message: "session cancelled", Status: s.Status})
		m.release(id)
	}
	return nil
}

// DeleteSession cancels the session and removes it with its event history.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.CancelSession(ctx, id); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	m.bus.Forget(id)
	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// BeginRun registers the execution of a session. A session executes at
// most once; a second call returns ErrAlreadyStarted.
func (m *Manager) BeginRun(ctx context.Context, id string, cancel context.CancelFunc) error {
	e, err := m.entry(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	if e.s.Status.IsTerminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, e.s.Status)
	}
	e.started, e.running, e.cancel = true, true, cancel
	metrics.ActiveRuns.Inc()
	return nil
}

// EndRun clears the execution registered by BeginRun.
func (m *Manager) EndRun(id string) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.running {
		e.running, e.cancel = false, nil
		metrics.ActiveRuns.Dec()
	}
	e.mu.Unlock()
	m.release(id)
}

// Started reports whether the session's execution has begun.
func (m *Manager) Started(id string) bool {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Running reports whether the session is executing now.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// OnSessionEvent registers a synchronous event handler for the session and
// returns its unsubscribe function.
func (m *Manager) OnSessionEvent(id string, h streaming.Handler) func() {
	return m.bus.OnEvent(id, h)
}

// Subscribe returns a channel of the session's future events.
func (m *Manager) Subscribe(id string) (<-chan types.EngineEvent, func()) {
	return m.bus.Subscribe(id)
}

// Replay returns the session's retained events and a channel of the ones
// that follow.
func (m *Manager) Replay(id string) ([]types.EngineEvent, <-chan types.EngineEvent, func()) {
	return m.bus.Replay(id)
}
