// Package relay fans session traffic out across server nodes.
//
// Every node runs its own coordinator for the sessions its clients use. A
// Bus carries the replicated messages (ops, presence, layer events, resync)
// between those coordinators so participants connected to different nodes
// converge. Commands and snapshots stay local to a node.
//
// Two buses are provided: NATSBus (core NATS subjects) and RedisBus (Redis
// pub/sub). Bridge plugs either into the transport port.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Bus is a best-effort publish/subscribe channel per session.
type Bus interface {
	// Publish sends data to every subscriber of sessionID, including
	// subscribers in the publishing process.
	Publish(ctx context.Context, sessionID string, data []byte) error

	// Subscribe calls fn for every message published to sessionID until the
	// returned cancel function is called. fn must not block.
	Subscribe(sessionID string, fn func(data []byte)) (cancel func(), err error)

	// Close releases the connection.
	Close() error
}

// Errors.
var (
	ErrClosed      = errors.New("relay: bus closed")
	ErrUnknownKind = errors.New("relay: unknown bus kind")
)

// Frame is what crosses the bus: a session payload tagged with the node that
// published it and the participant it came from.
type Frame struct {
	Node        string          `json:"node"`
	Participant string          `json:"participant,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// EncodeFrame serializes a frame.
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Node == "" || len(f.Payload) == 0 {
		return nil, errors.New("decode frame: missing node or payload")
	}
	return &f, nil
}

// Bus kinds.
const (
	KindNone  = "none"
	KindNATS  = "nats"
	KindRedis = "redis"
)

// Config selects and configures a bus.
type Config struct {
	Kind  string
	NATS  NATSConfig
	Redis RedisConfig
}

// Open connects the configured bus. It returns nil for KindNone.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindNone:
		return nil, nil
	case KindNATS:
		return NewNATSBus(cfg.NATS, logger)
	case KindRedis:
		return NewRedisBus(ctx, cfg.Redis, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}
