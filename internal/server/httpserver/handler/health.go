package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/annomesh-go/internal/infra/buildinfo"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": buildinfo.Get().Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, r, http.StatusServiceUnavailable, "AM-SYS-5030", "not ready", err.Error())
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": len(h.sessions.List()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
