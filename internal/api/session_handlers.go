package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prowlkit/prowl/internal/scrape"
)

type createSessionRequest struct {
	URL               string             `json:"url"`
	MaxDepth          int                `json:"max_depth"`
	MaxPages          int                `json:"max_pages"`
	Concurrent        int                `json:"concurrent"`
	DelayMs           int64              `json:"delay_ms"`
	RespectRobots     *bool              `json:"respect_robots"`
	IncludePatterns   []string           `json:"include_patterns"`
	ExcludePatterns   []string           `json:"exclude_patterns"`
	ForceStrategy     scrape.Strategy    `json:"force_strategy"`
	ExtractStructured bool               `json:"extract_structured"`
	UserAgent         string             `json:"user_agent"`
	Auth              *scrape.AuthConfig `json:"auth"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	cfg := scrape.CrawlConfig{
		MaxDepth:          req.MaxDepth,
		MaxPages:          req.MaxPages,
		Concurrent:        req.Concurrent,
		Delay:             time.Duration(req.DelayMs) * time.Millisecond,
		RespectRobots:     req.RespectRobots == nil || *req.RespectRobots,
		IncludePatterns:   req.IncludePatterns,
		ExcludePatterns:   req.ExcludePatterns,
		ForceStrategy:     req.ForceStrategy,
		ExtractStructured: req.ExtractStructured,
		Auth:              req.Auth,
		UserAgent:         req.UserAgent,
	}

	sess, err := s.sessions.Start(r.Context(), req.URL, cfg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []scrape.CrawlSession{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	pages, err := s.sessions.Pages(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	if pages == nil {
		pages = []scrape.PageRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.Pause)
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.Resume)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.Stop)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "session_id")
	if err := op(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "session_id")); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionError maps orchestrator errors: unknown IDs are 404, anything else
// is a state conflict.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, scrape.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeError(w, http.StatusConflict, err.Error())
}

type scrapeRequest struct {
	URL            string          `json:"url"`
	ForceStrategy  scrape.Strategy `json:"force_strategy"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

type scrapeResponse struct {
	Strategy   scrape.Strategy   `json:"strategy"`
	Confidence float64           `json:"confidence"`
	Fallbacks  []scrape.Strategy `json:"fallbacks,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Content    scrape.Content    `json:"content"`
}

func (s *Server) scrapeURL(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.ForceStrategy != "" && !req.ForceStrategy.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown strategy")
		return
	}

	fetchReq := scrape.FetchRequest{URL: req.URL}
	if req.TimeoutSeconds > 0 {
		fetchReq.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	result, err := s.engine.Scrape(r.Context(), fetchReq, req.ForceStrategy)
	if err != nil {
		var cascadeErr *scrape.CascadeError
		switch {
		case errors.Is(err, scrape.ErrServerBusy):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &cascadeErr):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.writeJSON(w, http.StatusOK, scrapeResponse{
		Strategy:   result.Strategy,
		Confidence: result.Confidence,
		Fallbacks:  result.Fallbacks,
		DurationMs: result.Duration.Milliseconds(),
		Content:    result.Content,
	})
}
