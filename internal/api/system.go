// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const healthTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGuideStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Guide == nil {
		writeError(w, r, http.StatusNotFound, "guide_disabled", "no guide source configured")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Guide.Status())
}

// handleGuideSync queues a pass and returns without waiting for it.
func (s *Server) handleGuideSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Guide == nil {
		writeError(w, r, http.StatusNotFound, "guide_disabled", "no guide source configured")
		return
	}
	fast := false
	if v := r.URL.Query().Get("fast"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_parameter", "fast must be a boolean")
			return
		}
		fast = b
	}
	s.deps.Guide.RequestSync(fast)
	writeJSON(w, r, http.StatusAccepted, map[string]bool{"accepted": true, "fast": fast})
}
