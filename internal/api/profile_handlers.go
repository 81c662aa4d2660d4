package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": s.profiles.List()})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	p, ok := s.profiles.Get(domain)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no profile for domain")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if !s.profiles.Clear(domain) {
		s.writeError(w, http.StatusNotFound, "no profile for domain")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profileReport(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	rates, attempts, ok := s.profiles.Report(domain)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no profile for domain")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"domain":         domain,
		"success_rates":  rates,
		"total_attempts": attempts,
	})
}

func (s *Server) exportProfiles(w http.ResponseWriter, _ *http.Request) {
	data, err := s.profiles.Export()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write export failed", zap.Error(err))
	}
}

// importProfiles merges an exported profile snapshot. Incoming profiles
// overwrite same-domain entries.
func (s *Server) importProfiles(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	n, err := s.profiles.Import(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
