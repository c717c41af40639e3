// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discovery answers exploratory questions about a topic's
// literature: how two topics connect, where the research frontier is,
// which themes and author groups exist, what to read next, and how output
// evolved over time.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/dedup"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Kind names a discovery helper.
type Kind string

const (
	KindConnect   Kind = "connect"
	KindFrontiers Kind = "frontiers"
	KindMap       Kind = "map"
	KindNetwork   Kind = "network"
	KindRecommend Kind = "recommend"
	KindTimeline  Kind = "timeline"
)

// Kinds lists every helper.
var Kinds = []Kind{KindConnect, KindFrontiers, KindMap, KindNetwork, KindRecommend, KindTimeline}

// ErrUnknownKind is returned by Handle for an unsupported helper.
var ErrUnknownKind = errors.New("unknown discovery kind")

const (
	defaultLimit = 20
	maxLimit     = 100
	// fetchSize is the per-backend result count used to sample a topic.
	fetchSize = 40
)

// Service runs discovery helpers over live backend searches.
type Service struct {
	registry *search.Registry
	base     types.SearchConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService returns a Service searching the backends of registry.
func NewService(registry *search.Registry, base types.SearchConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, base: base, logger: logger, now: time.Now}
}

// Handle decodes body as the request of kind, validates it and runs the
// helper. Decoding and validation problems are *types.ValidationError.
func (s *Service) Handle(ctx context.Context, kind Kind, body []byte) (any, error) {
	switch kind {
	case KindConnect:
		return handle(ctx, body, s.Connect)
	case KindFrontiers:
		return handle(ctx, body, s.Frontiers)
	case KindMap:
		return handle(ctx, body, s.Map)
	case KindNetwork:
		return handle(ctx, body, s.Network)
	case KindRecommend:
		return handle(ctx, body, s.Recommend)
	case KindTimeline:
		return handle(ctx, body, s.Timeline)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
}

type validator interface {
	Validate() error
}

func handle[Req validator, Resp any](ctx context.Context, body []byte, fn func(context.Context, Req) (Resp, error)) (any, error) {
	var req Req
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			var verr types.ValidationError
			verr.Add("body", "invalid JSON: "+err.Error())
			return nil, &verr
		}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return fn(ctx, req)
}

// TopicRequest carries the fields shared by every helper.
type TopicRequest struct {
	Topic   string   `json:"topic"`
	Sources []string `json:"sources,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (r TopicRequest) validate(verr *types.ValidationError, field string) {
	if strings.TrimSpace(r.Topic) == "" {
		verr.Add(field, "must not be empty")
	}
	validateCommon(verr, r.Sources, r.Limit)
}

func validateCommon(verr *types.ValidationError, sources []string, limit int) {
	for _, src := range sources {
		if !known(src) {
			verr.Add("sources", fmt.Sprintf("unknown source %q", src))
		}
	}
	if limit < 0 || limit > maxLimit {
		verr.Add("limit", fmt.Sprintf("must be between 0 and %d", maxLimit))
	}
}

func known(name string) bool {
	for _, k := range types.KnownSources {
		if k == name {
			return true
		}
	}
	return false
}

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// fetch samples the literature of topic across the requested backends and
// collapses duplicates.
func (s *Service) fetch(ctx context.Context, topic string, sources []string) ([]types.Source, error) {
	names := sources
	if len(names) == 0 {
		names = s.registry.Names()
	}
	backends, err := s.registry.Select(names)
	if err != nil {
		return nil, err
	}
	cfg := s.base
	cfg.MaxResults = fetchSize
	out, err := search.SearchAll(ctx, search.Query{FreeText: topic}, backends, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", topic, err)
	}
	return dedup.DeduplicateSources(out.Results).Deduplicated, nil
}
