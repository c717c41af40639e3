// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deep_research_circuit_breaker_state",
			Help: "Breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_circuit_breaker_requests_total",
			Help: "Requests routed through a breaker by outcome",
		},
		[]string{"name", "outcome"},
	)
)

func observe(cb *Breaker, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	breakerRequests.WithLabelValues(cb.Name(), outcome).Inc()
	breakerState.WithLabelValues(cb.Name()).Set(float64(cb.State()))
}
