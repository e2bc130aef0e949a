package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/session"
)

// handleListSessions handles GET /v1/sessions.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	items := h.sessions.List()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := items[:0]
		for _, s := range items {
			if s.State == state {
				filtered = append(filtered, s)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []domain.SessionSummary{}
	}
	h.writeJSON(w, r, http.StatusOK, ListSessionsResponse{Items: items, Total: len(items)})
}

// handleGetSession handles GET /v1/sessions/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.lookup(w, r)
	if !ok {
		return
	}
	layers, err := coord.Layers(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	presence := coord.Presence()
	if presence == nil {
		presence = []domain.PresenceRecord{}
	}
	h.writeJSON(w, r, http.StatusOK, SessionResponse{
		SessionSummary: coord.Summary(),
		Backlog:        coord.BacklogLen(),
		Layers:         layers,
		Presence:       presence,
	})
}

// handleGetSnapshot handles GET /v1/sessions/{id}/snapshot.
func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := coord.Snapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, snap)
}

// handleListAnnotations handles GET /v1/sessions/{id}/annotations.
// The optional layer parameter is a comma separated list of layer ids.
func (h *Handler) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var layers []string
	if v := r.URL.Query().Get("layer"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				layers = append(layers, id)
			}
		}
	}
	anns, err := coord.List(r.Context(), layers...)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if anns == nil {
		anns = []*domain.Annotation{}
	}
	h.writeJSON(w, r, http.StatusOK, ListAnnotationsResponse{Items: anns, Total: len(anns)})
}

// handleListPresence handles GET /v1/sessions/{id}/presence.
func (h *Handler) handleListPresence(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.lookup(w, r)
	if !ok {
		return
	}
	presence := coord.Presence()
	if presence == nil {
		presence = []domain.PresenceRecord{}
	}
	h.writeJSON(w, r, http.StatusOK, presence)
}

// handleCloseSession handles DELETE /v1/sessions/{id}. Connected participants
// are disconnected and the in-memory state is released.
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := domain.ValidateSessionID(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if err := h.sessions.CloseSession(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.logger.Info("session closed via admin API", "session", id, "request_id", getRequestID(r))
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} path variable to a live coordinator, writing the
// error response when there is none.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Coordinator, bool) {
	id := mux.Vars(r)["id"]
	if err := domain.ValidateSessionID(id); err != nil {
		h.handleServiceError(w, r, err)
		return nil, false
	}
	coord, ok := h.sessions.Get(id)
	if !ok {
		h.handleServiceError(w, r, domain.ErrSessionNotFound.WithDetails(id))
		return nil, false
	}
	return coord, true
}
