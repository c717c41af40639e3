// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func sampleSession(id, user string, created time.Time) *types.ResearchSession {
	return &types.ResearchSession{
		ID:        id,
		UserID:    user,
		Topic:     "metformin and aging",
		Mode:      types.ModeQuick,
		Status:    types.StatusPlanning,
		Config:    types.DefaultResearchConfig(types.ModeQuick),
		CreatedAt: created,
		UpdatedAt: created,
		Result: &types.ResearchResult{
			Sources: []types.Source{{ID: "src-1", Title: "A trial", DOI: "10.1/x"}},
		},
	}
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s1 := sampleSession("s1", "u1", base)
	s2 := sampleSession("s2", "u1", base.Add(time.Second))
	s3 := sampleSession("s3", "u2", base)
	for _, s := range []*types.ResearchSession{s1, s2, s3} {
		require.NoError(t, store.Put(ctx, s))
	}

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "metformin and aging", got.Topic)
	require.NotNil(t, got.Result)
	assert.Equal(t, "10.1/x", got.Result.Sources[0].DOI)

	s1.Status = types.StatusResearching
	s1.Progress = 40
	require.NoError(t, store.Put(ctx, s1))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusResearching, got.Status)
	assert.Equal(t, 40, got.Progress)

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)
	assert.Equal(t, "s1", list[1].ID)

	require.NoError(t, store.Delete(ctx, "s1"))
	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := sampleSession("s1", "u1", time.Now())
	require.NoError(t, store.Put(ctx, s))
	s.Topic = "mutated"

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "metformin and aging", got.Topic)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newMiniredis(t)
	exerciseStore(t, NewRedisStoreWithClient(client, time.Hour, nil))
}

func TestRedisStoreTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisStoreWithClient(client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("s1", "u1", time.Now())))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("s1")))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), types.StoreConfig{RedisAddr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.False(t, mr.Exists(sessionKey("x")))
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, sampleSession("s1", "u1", time.Now())))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, types.StoreConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = OpenStore(ctx, types.StoreConfig{Backend: types.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = OpenStore(ctx, types.StoreConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
}
