package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the message discriminator carried in Envelope.Msg.
type Type string

const (
	TypeOp              Type = "op"
	TypeSubmit          Type = "submit"
	TypePresence        Type = "presence"
	TypeSnapshot        Type = "snapshot"
	TypeSnapshotRequest Type = "snapshot_request"
	TypeResync          Type = "resync"
	TypeLayer           Type = "layer"
	TypeLayerCmd        Type = "layer_cmd"
	TypeUndo            Type = "undo"
	TypeRedo            Type = "redo"
	TypeError           Type = "error"
)

// Relayed reports whether a gateway forwards messages of type t to the other
// members of a session. Commands are only meant for the coordinator.
func (t Type) Relayed() bool {
	switch t {
	case TypeOp, TypePresence, TypeLayer, TypeResync:
		return true
	}
	return false
}

// Envelope is the outer frame of every message.
type Envelope struct {
	Msg  Type            `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Errors returned by the codec.
var (
	ErrEmptyPayload = errors.New("wire: empty payload")
	ErrUnknownType  = errors.New("wire: unknown message type")
)

// Encode marshals data into an envelope of type t. A nil data yields an
// envelope without a data field.
func Encode(t Type, data any) ([]byte, error) {
	env := Envelope{Msg: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal %s: %w", t, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses the outer envelope.
func Decode(payload []byte) (*Envelope, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if !env.Msg.known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Msg)
	}
	return &env, nil
}

// PeekType returns the message type without decoding the data.
func PeekType(payload []byte) (Type, error) {
	var head struct {
		Msg Type `json:"msg"`
	}
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if !head.Msg.known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, head.Msg)
	}
	return head.Msg, nil
}

// Into decodes the envelope data into v.
func (e *Envelope) Into(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("wire: %s carries no data", e.Msg)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("wire: unmarshal %s: %w", e.Msg, err)
	}
	return nil
}

func (t Type) known() bool {
	switch t {
	case TypeOp, TypeSubmit, TypePresence, TypeSnapshot, TypeSnapshotRequest,
		TypeResync, TypeLayer, TypeLayerCmd, TypeUndo, TypeRedo, TypeError:
		return true
	}
	return false
}
