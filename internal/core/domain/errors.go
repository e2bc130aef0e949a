// Package domain defines the core domain models for AnnoMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes have the form AM-{AREA}-{NNNN}; the numeric part mirrors the HTTP
// status family the error maps to.
type DomainError struct {
	Code    string // Error code (e.g., "AM-ANN-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsBenign reports whether err is one of the race outcomes that concurrent
// editing produces routinely (unknown id, duplicate create). These are
// logged and absorbed instead of being surfaced to users.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAnnotationNotFound) || errors.Is(err, ErrDuplicateID)
}

// IsPolicy reports whether err is a layer policy violation that should be
// surfaced to the acting participant.
func IsPolicy(err error) bool {
	return errors.Is(err, ErrLayerLocked) ||
		errors.Is(err, ErrLayerNotEmpty) ||
		errors.Is(err, ErrLayerNotFound)
}

// IsValidation reports whether err rejects a malformed operation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrKindImmutable)
}

// ============================================================================
// Annotation Errors (ANN)
// ============================================================================

var (
	// ErrValidation indicates a malformed or out-of-contract operation.
	ErrValidation = NewDomainError("AM-ANN-4001", "operation validation failed")

	// ErrKindImmutable indicates an update tried to change an annotation's kind.
	ErrKindImmutable = NewDomainError("AM-ANN-4002", "annotation kind is immutable")

	// ErrAnnotationNotFound indicates the annotation id is unknown.
	ErrAnnotationNotFound = NewDomainError("AM-ANN-4040", "annotation not found")

	// ErrDuplicateID indicates a create for an id that is already live.
	ErrDuplicateID = NewDomainError("AM-ANN-4090", "annotation id already exists")
)

// ============================================================================
// Layer Errors (LAYR)
// ============================================================================

var (
	// ErrLayerNotFound indicates the layer id is unknown.
	ErrLayerNotFound = NewDomainError("AM-LAYR-4040", "layer not found")

	// ErrLayerNotEmpty indicates a layer still has member annotations.
	ErrLayerNotEmpty = NewDomainError("AM-LAYR-4091", "layer is not empty")

	// ErrLayerLocked indicates the destination layer does not accept annotations.
	ErrLayerLocked = NewDomainError("AM-LAYR-4230", "layer is locked")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates the requested session is not open.
	ErrSessionNotFound = NewDomainError("AM-SESS-4040", "session not found")

	// ErrSessionClosed indicates the session has been evicted.
	ErrSessionClosed = NewDomainError("AM-SESS-4100", "session closed")

	// ErrParticipantUnknown indicates a request from a participant that never joined.
	ErrParticipantUnknown = NewDomainError("AM-SESS-4041", "participant not in session")
)

// ============================================================================
// Transport Errors (XPRT)
// ============================================================================

var (
	// ErrTransportFailure indicates the transport adapter could not deliver.
	ErrTransportFailure = NewDomainError("AM-XPRT-5030", "transport failure")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("AM-SYS-5000", "internal error")

	// ErrStorageError indicates an archive layer error.
	ErrStorageError = NewDomainError("AM-SYS-5001", "storage error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("AM-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("AM-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("AM-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("AM-ARG-1002", "missing required argument")
)
