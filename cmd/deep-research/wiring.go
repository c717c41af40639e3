// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"net/http"

	"github.com/pdiddy/deep-research/internal/circuitbreaker"
	"github.com/pdiddy/deep-research/internal/discovery"
	"github.com/pdiddy/deep-research/internal/executor"
	"github.com/pdiddy/deep-research/internal/llm"
	"github.com/pdiddy/deep-research/internal/research"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

// app holds the components shared by serve and research.
type app struct {
	store     session.Store
	sessions  *session.Manager
	registry  *search.Registry
	engine    *research.Engine
	discovery *discovery.Service
}

func newApp(ctx context.Context, cfg types.EngineConfig, store types.StoreConfig) (*app, error) {
	st, err := session.OpenStore(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	bus := streaming.NewBus(cfg.Engine.HistorySize, cfg.Engine.SubscriberBuffer, logger)
	mgr := session.NewManager(st, bus, logger)
	mgr.SetHistoryRetention(cfg.Engine.HistoryRetention)
	reg := search.NewDefaultRegistry(cfg.Search, logger)
	exec := executor.New(reg, cfg.Search, logger)
	return &app{
		store:     st,
		sessions:  mgr,
		registry:  reg,
		engine:    research.NewEngine(mgr, exec, newLLM(cfg.AI), cfg.Engine, logger),
		discovery: discovery.NewService(reg, cfg.Search, logger),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

// newLLM returns the Claude client, or llm.Unavailable when no key is
// configured so the engine falls back to heuristics.
func newLLM(cfg types.AIConfig) llm.Client {
	if cfg.APIKey == "" {
		logger.Warn("no anthropic-api-key configured, perspectives and synthesis use fallbacks")
		return llm.Unavailable{}
	}
	cb := circuitbreaker.New("llm.claude", circuitbreaker.DefaultConfig(), logger)
	return &llm.ClaudeClient{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Client:    circuitbreaker.NewHTTPClient(&http.Client{Timeout: cfg.Timeout}, cb),
	}
}
