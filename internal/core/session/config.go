package session

import (
	"log/slog"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/history"
	"github.com/yndnr/annomesh-go/internal/core/presence"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/telemetry/tracer"
)

// Defaults.
const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultBacklogSize   = 1024
	DefaultRetryInterval = 2 * time.Second
	DefaultQueueSize     = 4096
	DefaultSendTimeout   = 5 * time.Second
)

// Config holds per-session coordinator settings.
type Config struct {
	// LocalID is the participant a client-side replica acts for.
	// It is empty for server coordinators.
	LocalID string

	// Authority coordinators answer snapshot requests and send a snapshot to
	// every joining participant.
	Authority bool

	PresenceThreshold  time.Duration
	PresenceEvictAfter time.Duration
	HistoryCapacity    int

	// BacklogSize bounds the broadcasts kept while the transport fails.
	BacklogSize int

	// RetryInterval is how often the backlog is flushed and presence pruned.
	RetryInterval time.Duration

	QueueSize   int
	SendTimeout time.Duration
}

// DefaultConfig returns the settings used by server coordinators.
func DefaultConfig() Config {
	return Config{
		Authority:          true,
		PresenceThreshold:  presence.DefaultThreshold,
		PresenceEvictAfter: 3 * presence.DefaultThreshold,
		HistoryCapacity:    history.DefaultCapacity,
		BacklogSize:        DefaultBacklogSize,
		RetryInterval:      DefaultRetryInterval,
		QueueSize:          DefaultQueueSize,
		SendTimeout:        DefaultSendTimeout,
	}
}

// ReplicaConfig returns the settings for a client-side replica acting for
// participantID.
func ReplicaConfig(participantID string) Config {
	cfg := DefaultConfig()
	cfg.Authority = false
	cfg.LocalID = participantID
	return cfg
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PresenceThreshold <= 0 {
		c.PresenceThreshold = d.PresenceThreshold
	}
	if c.PresenceEvictAfter <= 0 {
		c.PresenceEvictAfter = 3 * c.PresenceThreshold
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.BacklogSize <= 0 {
		c.BacklogSize = d.BacklogSize
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
}

// Observer is notified of state changes that should be persisted.
// Calls happen on the coordinator goroutine and must not block.
type Observer interface {
	AnnotationChanged(sessionID string, op *domain.Operation, eff domain.Effect)
	LayerChanged(sessionID string, l *domain.Layer, deleted bool)
	SnapshotLoaded(snap *domain.Snapshot)
}

// StateListener is called on every lifecycle transition, on the coordinator
// goroutine. It must not call back into the coordinator synchronously.
type StateListener func(c *Coordinator, from, to domain.SessionState)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTracer records a span per operation, remote apply and join.
func WithTracer(t *tracer.Provider) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithObserver registers a persistence observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithStateListener registers a lifecycle listener.
func WithStateListener(fn StateListener) Option {
	return func(c *Coordinator) {
		c.onState = fn
	}
}
