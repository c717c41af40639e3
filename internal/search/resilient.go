// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/pdiddy/deep-research/internal/circuitbreaker"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Resilient wraps a Backend with a per-backend rate limiter and a circuit
// breaker. While the breaker is open, Search fails fast without calling the
// underlying API.
type Resilient struct {
	Backend Backend
	Breaker *circuitbreaker.Breaker
	Limiter *rate.Limiter
}

// NewResilient wraps b. A nil limiter or breaker disables that guard.
func NewResilient(b Backend, cb *circuitbreaker.Breaker, limiter *rate.Limiter) *Resilient {
	return &Resilient{Backend: b, Breaker: cb, Limiter: limiter}
}

// Name returns the wrapped backend's name.
func (r *Resilient) Name() string { return r.Backend.Name() }

// Search waits for the limiter, then runs the wrapped search through the
// breaker. Cancellation by the caller is not counted as a backend failure.
func (r *Resilient) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Source, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w", r.Name(), err)
		}
	}
	if r.Breaker == nil {
		return r.Backend.Search(ctx, query, cfg)
	}

	var results []types.Source
	var callerErr error
	err := r.Breaker.Execute(func() error {
		var err error
		results, err = r.Backend.Search(ctx, query, cfg)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			callerErr = err
			return nil
		}
		return err
	})
	if callerErr != nil {
		return nil, callerErr
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
