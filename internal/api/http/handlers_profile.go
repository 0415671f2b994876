package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/profile"
)

type profileResponse struct {
	Profile  profile.Profile `json:"profile"`
	Warnings []string        `json:"warnings,omitempty"`
}

// handleProfile serves the stored engine profile. GET returns it with the
// guard-rail warnings the planner would emit; PUT persists a new profile,
// re-plans it, and pushes the effective runtime into the engine.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusNotImplemented, "unsupported", "profile store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetProfile(w, r)
	case http.MethodPut:
		s.handlePutProfile(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	stored, err := s.profiles.Get(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		stored = profile.DefaultProfile()
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}
	plan := profile.Plan(stored)
	writeJSON(w, http.StatusOK, profileResponse{Profile: stored, Warnings: plan.Warnings})
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var stored profile.Profile
	if !decodeJSONBody(w, r, &stored) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.profiles.Save(ctx, stored); err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}

	plan := profile.Plan(stored)
	if s.applyProfile != nil {
		if err := s.applyProfile(ctx, plan.Runtime); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: stored, Warnings: plan.Warnings})
}
