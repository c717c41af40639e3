// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics defines the Prometheus collectors of the research service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_created_total",
			Help: "Research sessions created, by mode",
		},
		[]string{"mode"},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_finished_total",
			Help: "Research sessions that reached a terminal status",
		},
		[]string{"status"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_active_runs",
			Help: "Research executions currently running",
		},
	)

	SourcesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sources_found_total",
			Help: "Raw sources returned, by backend",
		},
		[]string{"backend"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_backend_errors_total",
			Help: "Failed backend queries, by backend",
		},
		[]string{"backend"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_backend_latency_seconds",
			Help:    "Backend query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	DuplicatesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_duplicates_removed_total",
			Help: "Sources collapsed by deduplication",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_stage_duration_seconds",
			Help:    "Duration of each orchestration stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_llm_requests_total",
			Help: "Completion calls, by outcome",
		},
		[]string{"outcome"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_stream_clients",
			Help: "Connected SSE clients",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_events_published_total",
			Help: "Engine events published, by type",
		},
		[]string{"type"},
	)
)

// ObserveStage records how long a stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
