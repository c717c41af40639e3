// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httpapi exposes research sessions, their event streams, and the
// discovery helpers over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/discovery"
	"github.com/pdiddy/deep-research/internal/library"
	"github.com/pdiddy/deep-research/internal/research"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server holds the handlers' dependencies.
type Server struct {
	sessions  *session.Manager
	engine    *research.Engine
	discovery *discovery.Service
	library   *library.Library
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewServer returns a Server. A zero heartbeat defaults to 15 seconds.
func NewServer(sessions *session.Manager, engine *research.Engine, disc *discovery.Service, heartbeat time.Duration, logger *zap.Logger) *Server {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{sessions: sessions, engine: engine, discovery: disc, heartbeat: heartbeat, logger: logger}
}

// Handler returns the routed handler wrapped in logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/research", s.handleCreate)
	mux.HandleFunc("GET /api/research", s.handleList)
	mux.HandleFunc("GET /api/research/{sessionId}", s.handleGet)
	mux.HandleFunc("DELETE /api/research/{sessionId}", s.handleDelete)
	mux.HandleFunc("GET /api/research/{sessionId}/stream", s.handleStream)
	mux.HandleFunc("GET /api/research/{sessionId}/report", s.handleReport)
	mux.HandleFunc("POST /api/research/{sessionId}/clarify", s.handleClarify)
	mux.HandleFunc("POST /api/discovery/{kind}", s.handleDiscovery)
	s.libraryRoutes(mux)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.recover(s.logRequests(mux))
}

type errorBody struct {
	Error  string             `json:"error"`
	Fields []types.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and a JSON body. Unexpected errors
// are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
	case errors.Is(err, discovery.ErrUnknownKind):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, research.ErrClarificationPending),
		errors.Is(err, library.ErrNotComplete):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var verr types.ValidationError
		verr.Add("body", "invalid JSON: "+err.Error())
		return &verr
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panicked", zap.Any("panic", v), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
