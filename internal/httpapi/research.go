// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/discovery"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/research"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

// CreateRequest is the body of POST /api/research.
type CreateRequest struct {
	Topic  string                 `json:"topic"`
	Mode   string                 `json:"mode"`
	UserID string                 `json:"userId,omitempty"`
	Config *types.ConfigOverrides `json:"config,omitempty"`
	Model  string                 `json:"model,omitempty"`
}

// CreateResponse answers a create request carrying a userId.
type CreateResponse struct {
	SessionID string                        `json:"sessionId"`
	Status    types.Status                  `json:"status"`
	Questions []types.ClarificationQuestion `json:"questions,omitempty"`
}

// ClarifyRequest is the body of POST /api/research/{sessionId}/clarify.
type ClarifyRequest struct {
	Answers []string `json:"answers,omitempty"`
	Skip    bool     `json:"skip,omitempty"`
}

// handleCreate creates a session. With a userId it answers with the
// session ID and any clarifying questions; without one it skips
// clarification and streams the run on this response.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Model != "" {
		if req.Config == nil {
			req.Config = &types.ConfigOverrides{}
		}
		req.Config.Model = req.Model
	}

	ctx := r.Context()
	sess, err := s.sessions.CreateSession(ctx, req.UserID, req.Topic, req.Mode, req.Config)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		if sess.Status == types.StatusClarifying {
			if _, err := s.sessions.SkipClarification(ctx, sess.ID); err != nil {
				s.writeError(w, err)
				return
			}
		}
		s.stream(w, r, sess.ID)
		return
	}

	resp := CreateResponse{SessionID: sess.ID, Status: sess.Status}
	if sess.Status == types.StatusClarifying {
		qs, err := s.engine.Questions(ctx, sess.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Questions = qs
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		var verr types.ValidationError
		verr.Add("userId", "query parameter is required")
		s.writeError(w, &verr)
		return
	}
	list, err := s.sessions.ListSessions(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*types.ResearchSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.GetSession(r.Context(), r.PathValue("sessionId"))
	if !ok {
		s.writeError(w, session.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSession(r.Context(), r.PathValue("sessionId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport renders the session as Markdown (default) or BibTeX.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.GetSession(r.Context(), r.PathValue("sessionId"))
	if !ok {
		s.writeError(w, session.ErrNotFound)
		return
	}
	format := r.URL.Query().Get("format")
	switch format {
	case "", report.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	case report.FormatBibTeX:
		w.Header().Set("Content-Type", "application/x-bibtex; charset=utf-8")
	default:
		var verr types.ValidationError
		verr.Add("format", "must be markdown or bibtex")
		s.writeError(w, &verr)
		return
	}
	if err := report.Write(w, sess, format); err != nil {
		s.logger.Warn("writing report", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	var req ClarifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var (
		sess *types.ResearchSession
		err  error
	)
	if req.Skip {
		sess, err = s.sessions.SkipClarification(r.Context(), id)
	} else {
		sess, err = s.sessions.AnswerClarification(r.Context(), id, req.Answers)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateResponse{SessionID: id, Status: sess.Status})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	sess, ok := s.sessions.GetSession(r.Context(), id)
	if !ok {
		s.writeError(w, session.ErrNotFound)
		return
	}
	if sess.Status == types.StatusClarifying {
		s.writeError(w, research.ErrClarificationPending)
		return
	}
	s.stream(w, r, id)
}

// stream replays the session's events and follows live ones until the
// terminal event or client disconnect, starting the run if nobody has.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before starting so the run sees a listener.
	history, ch, unsubscribe := s.sessions.Replay(id)
	defer unsubscribe()

	sess, ok := s.sessions.GetSession(r.Context(), id)
	if !ok {
		s.writeError(w, session.ErrNotFound)
		return
	}
	if !s.sessions.Started(id) && !sess.Status.IsTerminal() {
		err := s.engine.Start(id, research.RunOptions{PauseWhenUnwatched: true})
		if err != nil && !errors.Is(err, session.ErrAlreadyStarted) {
			s.writeError(w, err)
			return
		}
	}
	// Sessions loaded from a persistent store have no event history.
	if sess.Status.IsTerminal() && !hasTerminal(history) {
		history = append(history, finalEvent(sess))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	log := s.logger.With(zap.String("session_id", id))

	for _, evt := range history {
		if err := streaming.WriteSSE(w, evt); err != nil {
			return
		}
		if evt.IsTerminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Info("stream client disconnected")
			return
		case evt, open := <-ch:
			if !open {
				log.Warn("stream subscriber fell behind, closing")
				return
			}
			if err := streaming.WriteSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
			if evt.IsTerminal() {
				return
			}
		case <-hb.C:
			if err := streaming.WriteComment(w, "ping"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func hasTerminal(events []types.EngineEvent) bool {
	for _, e := range events {
		if e.IsTerminal() {
			return true
		}
	}
	return false
}

// finalEvent rebuilds the terminal event of a finished session.
func finalEvent(s *types.ResearchSession) types.EngineEvent {
	if s.Status == types.StatusComplete {
		return types.NewEvent(s.ID, types.EventComplete, types.CompletePayload{Result: s.Result})
	}
	return types.NewEvent(s.ID, types.EventError, types.ErrorPayload{Message: s.Error, Status: s.Status})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var verr types.ValidationError
		verr.Add("body", err.Error())
		s.writeError(w, &verr)
		return
	}
	out, err := s.discovery.Handle(r.Context(), discovery.Kind(r.PathValue("kind")), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
