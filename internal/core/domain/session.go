// Package domain defines the core domain models for AnnoMesh.
package domain

// SessionState is the lifecycle state of a session coordinator.
type SessionState int

const (
	// SessionForming is the state before the first participant has joined.
	SessionForming SessionState = iota
	// SessionActive has at least one connected participant.
	SessionActive
	// SessionDraining has no participants and an idle timer running.
	SessionDraining
	// SessionClosed is terminal; in-memory state has been released.
	SessionClosed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case SessionForming:
		return "forming"
	case SessionActive:
		return "active"
	case SessionDraining:
		return "draining"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session IDs are opaque but bounded.
const MaxSessionIDLength = 128

// CanTransition reports whether moving from s to next is allowed.
//
//	forming  -> active, closed
//	active   -> draining, closed
//	draining -> active, closed
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionForming:
		return next == SessionActive || next == SessionClosed
	case SessionActive:
		return next == SessionDraining || next == SessionClosed
	case SessionDraining:
		return next == SessionActive || next == SessionClosed
	}
	return false
}

// ValidateSessionID checks a session identifier supplied by a client.
func ValidateSessionID(id string) error {
	if id == "" {
		return ErrMissingArgument.WithDetails("session id")
	}
	if len(id) > MaxSessionIDLength {
		return ErrInvalidArgument.WithDetails("session id too long")
	}
	return nil
}

// SessionSummary is the read-only view of a session used by admin surfaces.
type SessionSummary struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Participants int    `json:"participants"`
	Annotations  int    `json:"annotations"`
	Layers       int    `json:"layers"`
	Seq          uint64 `json:"seq"`
}
