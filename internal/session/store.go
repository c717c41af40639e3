// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrNotFound is returned by a Store for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must be safe for concurrent use
// and must not retain the pointers they are given.
type Store interface {
	Get(ctx context.Context, id string) (*types.ResearchSession, error)
	Put(ctx context.Context, s *types.ResearchSession) error
	Delete(ctx context.Context, id string) error
	// ListByUser returns the sessions of userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]*types.ResearchSession, error)
	Close() error
}

// OpenStore builds the Store selected by cfg.
func OpenStore(ctx context.Context, cfg types.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", types.StoreMemory:
		return NewMemoryStore(), nil
	case types.StoreRedis:
		return NewRedisStore(ctx, cfg, logger)
	case types.StoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// MemoryStore keeps sessions in a map. Sessions are cloned on the way in
// and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.ResearchSession
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*types.ResearchSession)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*types.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *types.ResearchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*types.ResearchSession, error) {
	m.mu.RLock()
	var out []*types.ResearchSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(ss []*types.ResearchSession) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].CreatedAt.After(ss[j].CreatedAt)
	})
}
