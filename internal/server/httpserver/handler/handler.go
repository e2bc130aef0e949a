package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/session"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// SessionService is the part of session.Manager the handlers use.
type SessionService interface {
	List() []domain.SessionSummary
	Get(sessionID string) (*session.Coordinator, bool)
	CloseSession(sessionID string) error
}

// ReadyFunc reports whether the server can accept traffic.
type ReadyFunc func(ctx context.Context) error

// Handler serves the session admin API.
type Handler struct {
	sessions SessionService
	ready    ReadyFunc
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithReadyCheck sets the check behind GET /ready.
func WithReadyCheck(fn ReadyFunc) Option {
	return func(h *Handler) { h.ready = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger.OrDiscard(l) }
}

// New creates a Handler over sessions.
func New(sessions SessionService, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterHealth registers /health and /ready on r.
func (h *Handler) RegisterHealth(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
}

// RegisterAPI registers the session endpoints on r, usually a /v1 subrouter.
// OPTIONS is accepted on every route so CORS preflights reach the middleware.
func (h *Handler) RegisterAPI(r *mux.Router) {
	r.HandleFunc("/sessions", h.handleListSessions).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/sessions/{id}", h.handleGetSession).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/sessions/{id}", h.handleCloseSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/snapshot", h.handleGetSnapshot).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/sessions/{id}/annotations", h.handleListAnnotations).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/sessions/{id}/presence", h.handleListPresence).Methods(http.MethodGet, http.MethodOptions)
}

// NotFound writes the standard 404 envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "AM-SYS-4040", "route not found", nil)
}

// MethodNotAllowed writes the standard 405 envelope.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "AM-SYS-4050", "method not allowed", nil)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err, "request_id", requestID)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	WriteError(w, getRequestID(r), status, code, message, details)
}

// WriteError writes an error envelope. Middlewares use it too.
func WriteError(w http.ResponseWriter, requestID string, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// getRequestID reads the id the RequestID middleware put on the request.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		h.writeError(w, r, ErrorCodeToHTTPStatus(code), code, err.Error(), nil)
		return
	}
	if ctxErr := r.Context().Err(); ctxErr != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "AM-SYS-5030", "request cancelled", nil)
		return
	}

	h.logger.Error("internal error", "error", err, "path", r.URL.Path)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error", nil)
}

// ErrorCodeToHTTPStatus maps error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4050"):
		return http.StatusMethodNotAllowed
	case strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4100"):
		return http.StatusGone
	case strings.HasSuffix(code, "-4230"):
		return http.StatusLocked
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4000"), strings.HasSuffix(code, "-4001"), strings.HasSuffix(code, "-4002"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "AM-ARG-"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
