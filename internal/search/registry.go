// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/deep-research/internal/circuitbreaker"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Registry holds the configured backends by name.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds b under b.Name(), replacing any previous entry.
func (r *Registry) Register(b Backend) {
	name := b.Name()
	if _, ok := r.backends[name]; !ok {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names lists registered backends in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Select returns the backends named in names, in that order. Unknown names
// are an error.
func (r *Registry) Select(names []string) ([]Backend, error) {
	out := make([]Backend, 0, len(names))
	for _, n := range names {
		b, ok := r.backends[n]
		if !ok {
			return nil, fmt.Errorf("unknown search backend %q", n)
		}
		out = append(out, b)
	}
	return out, nil
}

// NewDefaultRegistry builds every backend with its own rate limiter and
// circuit breaker.
func NewDefaultRegistry(cfg types.SearchConfig, logger *zap.Logger) *Registry {
	client := &http.Client{Timeout: cfg.Timeout}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	if cfg.NCBIAPIKey != "" && rps < 10 {
		rps = 10
	}

	raw := []Backend{
		&PubMedBackend{Client: client, APIKey: cfg.NCBIAPIKey},
		&ArxivBackend{Client: client},
		&SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey},
		&CrossRefBackend{Client: client, Mailto: cfg.CrossRefMailto},
		&OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail},
	}

	reg := NewRegistry()
	for _, b := range raw {
		cb := circuitbreaker.New("search."+b.Name(), circuitbreaker.DefaultConfig(), logger)
		reg.Register(NewResilient(b, cb, rate.NewLimiter(rate.Limit(rps), 1)))
	}
	return reg
}
