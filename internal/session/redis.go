// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

const redisKeyPrefix = "deep-research:"

// RedisStore keeps each session as a JSON string and indexes sessions per
// user in a set.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to cfg.RedisAddr and pings it.
func NewRedisStore(ctx context.Context, cfg types.StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStoreWithClient(client, cfg.TTL, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string  { return redisKeyPrefix + "session:" + id }
func userKey(userID string) string { return redisKeyPrefix + "user:" + userID + ":sessions" }

func (r *RedisStore) Get(ctx context.Context, id string) (*types.ResearchSession, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	var s types.ResearchSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *types.ResearchSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, r.ttl)
	if s.UserID != "" {
		pipe.SAdd(ctx, userKey(s.UserID), s.ID)
		if r.ttl > 0 {
			pipe.Expire(ctx, userKey(s.UserID), r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if s.UserID != "" {
		pipe.SRem(ctx, userKey(s.UserID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// ListByUser reads the user's index set. Members whose session has expired
// are removed from the set.
func (r *RedisStore) ListByUser(ctx context.Context, userID string) ([]*types.ResearchSession, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions of %s: %w", userID, err)
	}
	var out []*types.ResearchSession
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.SRem(ctx, userKey(userID), id)
			continue
		}
		if err != nil {
			r.logger.Warn("skipping unreadable session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
