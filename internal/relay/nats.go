package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// DefaultSubjectPrefix prefixes the per-session NATS subjects.
const DefaultSubjectPrefix = "annomesh.session"

// NATSConfig configures a NATSBus.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
}

// NATSBus is a Bus on core NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

var _ Bus = (*NATSBus)(nil)

// NewNATSBus connects to cfg.URL. The connection reconnects forever; messages
// published while disconnected are buffered by the client.
func NewNATSBus(cfg NATSConfig, l *slog.Logger) (*NATSBus, error) {
	l = logger.OrDiscard(l)
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "annomesh"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", logger.RedactURL(cfg.URL), err)
	}
	l.Info("nats bus connected", "url", nc.ConnectedUrlRedacted())
	return &NATSBus{conn: nc, prefix: cfg.SubjectPrefix, logger: l}, nil
}

// Subject returns the subject used for sessionID. Session ids are encoded so
// that dots and spaces cannot split or break the subject.
func (b *NATSBus) Subject(sessionID string) string {
	return b.prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(sessionID))
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, sessionID string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.conn.Publish(b.Subject(sessionID), data); err != nil {
		return fmt.Errorf("publish to %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(sessionID string, fn func(data []byte)) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	subject := b.Subject(sessionID)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) { fn(msg.Data) })
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush so the subscription is registered before any publish that
	// follows.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Flush waits until the server has processed everything published so far.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

// Close implements Bus.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.conn.Close()
	return nil
}
