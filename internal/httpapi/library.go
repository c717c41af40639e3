// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httpapi

import (
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/library"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/pkg/types"
)

// WithLibrary enables the /api/library routes. Call before Handler.
func (s *Server) WithLibrary(lib *library.Library) *Server {
	s.library = lib
	return s
}

func (s *Server) libraryRoutes(mux *http.ServeMux) {
	if s.library == nil {
		return
	}
	mux.HandleFunc("POST /api/research/{sessionId}/library", s.handleLibrarySave)
	mux.HandleFunc("GET /api/library", s.handleLibrarySearch)
	mux.HandleFunc("GET /api/library/export", s.handleLibraryExport)
	mux.HandleFunc("DELETE /api/library/{key...}", s.handleLibraryRemove)
}

func (s *Server) handleLibrarySave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.GetSession(r.Context(), r.PathValue("sessionId"))
	if !ok {
		s.writeError(w, session.ErrNotFound)
		return
	}
	sum, err := s.library.SaveSession(r.Context(), sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLibrarySearch(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.library.Search(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []library.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleLibraryExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := queryOptions(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	format := q.Get("format")
	switch format {
	case "", library.ExportJSON:
		format = library.ExportJSON
		w.Header().Set("Content-Type", "application/json")
	case library.ExportYAML, library.ExportCSL:
		w.Header().Set("Content-Type", "application/yaml")
	default:
		var verr types.ValidationError
		verr.Add("format", "must be json, yaml, or csl")
		s.writeError(w, &verr)
		return
	}
	if err := s.library.Export(r.Context(), w, format, opts); err != nil {
		s.logger.Warn("library export failed", zap.Error(err))
	}
}

func (s *Server) handleLibraryRemove(w http.ResponseWriter, r *http.Request) {
	ok, err := s.library.Remove(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "source not in library"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryOptions(q url.Values) (library.QueryOptions, error) {
	opts := library.QueryOptions{
		Query:     q.Get("q"),
		SessionID: q.Get("sessionId"),
		Origin:    q.Get("origin"),
	}
	var verr types.ValidationError
	for name, dst := range map[string]*int{"yearFrom": &opts.YearFrom, "yearTo": &opts.YearTo, "limit": &opts.MaxResults} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			verr.Add(name, "must be a non-negative integer")
			continue
		}
		*dst = n
	}
	if verr.HasErrors() {
		return opts, &verr
	}
	return opts, nil
}
