package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// DefaultChannelPrefix prefixes the per-session Redis channels.
const DefaultChannelPrefix = "annomesh:session:"

// RedisConfig configures a RedisBus.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisBus is a Bus on Redis pub/sub.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisConfig, l *slog.Logger) (*RedisBus, error) {
	l = logger.OrDiscard(l)
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	l.Info("redis bus connected", "addr", cfg.Addr)
	return &RedisBus{rdb: rdb, prefix: cfg.ChannelPrefix, logger: l}, nil
}

// Channel returns the channel used for sessionID.
func (b *RedisBus) Channel(sessionID string) string {
	return b.prefix + sessionID
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, sessionID string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.rdb.Publish(ctx, b.Channel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe implements Bus. Messages are delivered from one goroutine per
// subscription, in publish order.
func (b *RedisBus) Subscribe(sessionID string, fn func(data []byte)) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	ctx := context.Background()
	channel := b.Channel(sessionID)
	pubsub := b.rdb.Subscribe(ctx, channel)
	// Wait for the confirmation so publishes that follow are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("redis unsubscribe failed", "channel", channel, "error", err)
		}
		<-done
	}, nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.rdb.Close()
}
