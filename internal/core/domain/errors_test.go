package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("AM-TEST-1000", "test message"),
			expected: "[AM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("AM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[AM-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("AM-TEST-1000", "message 1")
	err2 := NewDomainError("AM-TEST-1000", "message 2")
	err3 := NewDomainError("AM-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("AM-TEST-1000", "wrapper").WithCause(cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if errors.Unwrap(NewDomainError("AM-TEST-1000", "no cause")) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_CopyOnWrite(t *testing.T) {
	original := NewDomainError("AM-TEST-1000", "original message")
	derived := original.WithDetails("details").WithCause(fmt.Errorf("cause"))

	if original.Details != "" || original.Cause != nil {
		t.Error("With* should not modify original error")
	}
	if derived.Details != "details" || derived.Cause == nil {
		t.Errorf("derived = %+v", derived)
	}
	if !errors.Is(derived, original) {
		t.Error("errors.Is should work after chaining")
	}
}

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", ErrAnnotationNotFound)

	if !IsDomainError(wrapped, "AM-ANN-4040") {
		t.Error("IsDomainError should work with wrapped errors")
	}
	if IsDomainError(wrapped, "AM-ANN-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
	if IsDomainError(fmt.Errorf("regular error"), "") {
		t.Error("IsDomainError should return false for non-DomainError")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"domain error", ErrLayerLocked, "AM-LAYR-4230"},
		{"wrapped domain error", fmt.Errorf("wrapped: %w", ErrDuplicateID), "AM-ANN-4090"},
		{"regular error", fmt.Errorf("regular error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		err        error
		benign     bool
		policy     bool
		validation bool
	}{
		{ErrAnnotationNotFound, true, false, false},
		{ErrDuplicateID.WithDetails("ann-1"), true, false, false},
		{ErrLayerLocked, false, true, false},
		{ErrLayerNotEmpty, false, true, false},
		{ErrLayerNotFound, false, true, false},
		{ErrValidation.WithDetails("bad"), false, false, true},
		{ErrKindImmutable, false, false, true},
		{ErrTransportFailure, false, false, false},
		{fmt.Errorf("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := IsBenign(tt.err); got != tt.benign {
				t.Errorf("IsBenign() = %v, want %v", got, tt.benign)
			}
			if got := IsPolicy(tt.err); got != tt.policy {
				t.Errorf("IsPolicy() = %v, want %v", got, tt.policy)
			}
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation() = %v, want %v", got, tt.validation)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrValidation, "AM-ANN-4001"},
		{ErrKindImmutable, "AM-ANN-4002"},
		{ErrAnnotationNotFound, "AM-ANN-4040"},
		{ErrDuplicateID, "AM-ANN-4090"},
		{ErrLayerNotFound, "AM-LAYR-4040"},
		{ErrLayerNotEmpty, "AM-LAYR-4091"},
		{ErrLayerLocked, "AM-LAYR-4230"},
		{ErrSessionNotFound, "AM-SESS-4040"},
		{ErrSessionClosed, "AM-SESS-4100"},
		{ErrParticipantUnknown, "AM-SESS-4041"},
		{ErrTransportFailure, "AM-XPRT-5030"},
		{ErrInternal, "AM-SYS-5000"},
		{ErrStorageError, "AM-SYS-5001"},
		{ErrBadRequest, "AM-SYS-4000"},
		{ErrRateLimited, "AM-SYS-4290"},
		{ErrInvalidArgument, "AM-ARG-1001"},
		{ErrMissingArgument, "AM-ARG-1002"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}
