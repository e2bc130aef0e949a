package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/wire"
)

// sendTimeout bounds relay work done on a delivery goroutine.
const sendTimeout = 5 * time.Second

// Bridge is a transport.Adapter that extends a node-local adapter across a
// Bus.
//
// Broadcasts from the coordinator and replicated messages from local
// participants are published to the bus. Frames from other nodes are sent to
// the local participants and handed to the coordinator.
type Bridge struct {
	local   transport.Adapter
	bus     Bus
	node    string
	logger  *slog.Logger
	metrics *metric.Registry
}

var _ transport.Adapter = (*Bridge)(nil)

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithNodeID sets the node id frames are tagged with. It defaults to a ULID.
func WithNodeID(id string) BridgeOption {
	return func(b *Bridge) {
		if id != "" {
			b.node = id
		}
	}
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger.OrDiscard(l) }
}

// WithBridgeMetrics sets the metrics registry.
func WithBridgeMetrics(m *metric.Registry) BridgeOption {
	return func(b *Bridge) { b.metrics = metric.OrDiscard(m) }
}

// NewBridge wraps local with bus.
func NewBridge(local transport.Adapter, bus Bus, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		local:   local,
		bus:     bus,
		node:    ulid.Make().String(),
		logger:  logger.Discard(),
		metrics: metric.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NodeID returns the id frames from this node carry.
func (b *Bridge) NodeID() string { return b.node }

// Send implements transport.Adapter. The payload goes to local participants
// and to the bus; either failure is reported so the caller retries.
func (b *Bridge) Send(ctx context.Context, sessionID string, payload []byte) error {
	localErr := b.local.Send(ctx, sessionID, payload)
	busErr := b.publish(ctx, sessionID, "", payload)
	return errors.Join(localErr, busErr)
}

// SendTo implements transport.Adapter. Direct messages never leave the node.
func (b *Bridge) SendTo(ctx context.Context, sessionID, participantID string, payload []byte) error {
	return b.local.SendTo(ctx, sessionID, participantID, payload)
}

// Subscribe implements transport.Adapter.
func (b *Bridge) Subscribe(sessionID string, h transport.Handler) (func(), error) {
	stopBus, err := b.bus.Subscribe(sessionID, func(data []byte) {
		b.fromBus(sessionID, h, data)
	})
	if err != nil {
		return nil, err
	}
	stopLocal, err := b.local.Subscribe(sessionID, &outbound{b: b, session: sessionID, next: h})
	if err != nil {
		stopBus()
		return nil, err
	}
	return func() {
		stopLocal()
		stopBus()
	}, nil
}

func (b *Bridge) publish(ctx context.Context, sessionID, participantID string, payload []byte) error {
	data, err := EncodeFrame(&Frame{Node: b.node, Participant: participantID, Payload: payload})
	if err != nil {
		return err
	}
	if err := b.bus.Publish(ctx, sessionID, data); err != nil {
		b.logger.Warn("relay publish failed", "session", sessionID, "error", err)
		return err
	}
	b.metrics.RelayMessages.WithLabelValues("out").Inc()
	return nil
}

func (b *Bridge) fromBus(sessionID string, h transport.Handler, data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		b.logger.Debug("bad relay frame dropped", "session", sessionID, "error", err)
		return
	}
	if f.Node == b.node {
		return
	}
	b.metrics.RelayMessages.WithLabelValues("in").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := b.local.Send(ctx, sessionID, f.Payload); err != nil {
		b.logger.Debug("relay fan-out failed", "session", sessionID, "error", err)
	}
	h.OnMessage(f.Participant, f.Payload)
}

// outbound sits between the local adapter and the coordinator and copies
// replicated messages from local participants to the bus.
type outbound struct {
	b       *Bridge
	session string
	next    transport.Handler
}

func (o *outbound) OnMessage(participantID string, payload []byte) {
	if t, err := wire.PeekType(payload); err == nil && t.Relayed() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		_ = o.b.publish(ctx, o.session, participantID, payload)
		cancel()
	}
	o.next.OnMessage(participantID, payload)
}

func (o *outbound) OnJoin(participantID string)  { o.next.OnJoin(participantID) }
func (o *outbound) OnLeave(participantID string) { o.next.OnLeave(participantID) }
