package handler

import (
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ListSessionsResponse is the response body for GET /v1/sessions.
type ListSessionsResponse struct {
	Items []domain.SessionSummary `json:"items"`
	Total int                     `json:"total"`
}

// SessionResponse is the response body for GET /v1/sessions/{id}.
type SessionResponse struct {
	domain.SessionSummary
	Backlog  int                     `json:"backlog"`
	Layers   []*domain.Layer         `json:"layers"`
	Presence []domain.PresenceRecord `json:"presence"`
}

// ListAnnotationsResponse is the response body for
// GET /v1/sessions/{id}/annotations.
type ListAnnotationsResponse struct {
	Items []*domain.Annotation `json:"items"`
	Total int                  `json:"total"`
}
