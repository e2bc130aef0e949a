// Package transport defines the port through which session coordinators
// exchange byte messages with the other members of a session.
//
// The engine is agnostic to framing: an Adapter only has to deliver payloads
// intact and attribute each one to the participant that sent it.
package transport

import (
	"context"
	"errors"
)

// Handler receives the traffic of one session.
//
// Implementations must not block for long; adapters call handlers from their
// read loops.
type Handler interface {
	// OnMessage is called for each payload from participantID.
	OnMessage(participantID string, payload []byte)

	// OnJoin is called when a participant connects to the session.
	OnJoin(participantID string)

	// OnLeave is called when a participant disconnects.
	OnLeave(participantID string)
}

// Adapter delivers payloads between members of a session.
type Adapter interface {
	// Send delivers payload to every member of the session except the
	// subscriber's own participant, if it has one.
	Send(ctx context.Context, sessionID string, payload []byte) error

	// SendTo delivers payload to a single participant.
	SendTo(ctx context.Context, sessionID, participantID string, payload []byte) error

	// Subscribe registers h for the session. The returned cancel function
	// detaches it.
	Subscribe(sessionID string, h Handler) (cancel func(), err error)
}

// Errors returned by adapters.
var (
	ErrClosed            = errors.New("transport: closed")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrUnknownSession    = errors.New("transport: unknown session")
	ErrUnknownRecipient  = errors.New("transport: unknown participant")
	ErrAlreadySubscribed = errors.New("transport: session already has a handler")
)

// HandlerFuncs adapts plain functions to a Handler. Nil functions are skipped.
type HandlerFuncs struct {
	Message func(participantID string, payload []byte)
	Join    func(participantID string)
	Leave   func(participantID string)
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(participantID string, payload []byte) {
	if h.Message != nil {
		h.Message(participantID, payload)
	}
}

// OnJoin implements Handler.
func (h HandlerFuncs) OnJoin(participantID string) {
	if h.Join != nil {
		h.Join(participantID)
	}
}

// OnLeave implements Handler.
func (h HandlerFuncs) OnLeave(participantID string) {
	if h.Leave != nil {
		h.Leave(participantID)
	}
}
