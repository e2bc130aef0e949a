package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/session"
	"github.com/yndnr/annomesh-go/internal/infra/shutdown"
	"github.com/yndnr/annomesh-go/internal/infra/tlsroots"
	"github.com/yndnr/annomesh-go/internal/relay"
	"github.com/yndnr/annomesh-go/internal/server/config"
	"github.com/yndnr/annomesh-go/internal/server/httpserver"
	"github.com/yndnr/annomesh-go/internal/server/localserver"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/internal/storage/memory"
	"github.com/yndnr/annomesh-go/internal/storage/pgarchive"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/telemetry/tracer"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/transport/wsgateway"
	"github.com/yndnr/annomesh-go/pkg/crypto/adaptive"
)

// errShuttingDown is reported by /ready once shutdown has begun so load
// balancers stop routing new participants here.
var errShuttingDown = errors.New("server is shutting down")

// app holds the wired components of a running server.
type app struct {
	cfg     *config.ServerConfig
	log     *slog.Logger
	metrics *metric.Registry

	archive  storage.Archive
	recorder *storage.Recorder
	bus      relay.Bus
	gateway  *wsgateway.Gateway
	manager  *session.Manager
	http     *httpserver.Server
	certs    *tlsroots.Reloader
	tracer   *tracer.Provider
	admin    *localserver.Server

	startedAt time.Time
	closing   atomic.Bool
}

// newApp builds every component. On error, whatever was already opened is
// closed again.
func newApp(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metric.NewRegistry(), startedAt: time.Now()}
	if err := a.build(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	var err error
	a.tracer, err = tracer.New(tracer.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "annomesh-server",
		Exporter:    strings.ToLower(cfg.Tracing.Exporter),
		Output:      cfg.Tracing.Output,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if a.tracer.Enabled() {
		log.Info("tracing enabled", "exporter", cfg.Tracing.Exporter, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	a.archive, err = openArchive(ctx, cfg, log, a.metrics)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if a.archive != nil {
		a.recorder = storage.NewRecorder(a.archive,
			storage.WithWriters(cfg.Storage.Writers),
			storage.WithQueueSize(cfg.Storage.QueueSize),
			storage.WithRecorderLogger(log),
			storage.WithRecorderMetrics(a.metrics),
		)
	}

	a.bus, err = relay.Open(ctx, relayConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	a.gateway = wsgateway.New(gatewayConfig(cfg), a.openSession,
		wsgateway.WithLogger(log),
		wsgateway.WithMetrics(a.metrics),
	)

	var adapter transport.Adapter = a.gateway
	if a.bus != nil {
		bridge := relay.NewBridge(a.gateway, a.bus,
			relay.WithNodeID(cfg.Server.NodeID),
			relay.WithBridgeLogger(log),
			relay.WithBridgeMetrics(a.metrics),
		)
		log.Info("relay enabled", "kind", cfg.Relay.Kind, "node", bridge.NodeID())
		adapter = bridge
	}

	opts := []session.ManagerOption{
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithManagerLogger(log),
		session.WithManagerMetrics(a.metrics),
		session.WithManagerTracer(a.tracer),
	}
	if a.archive != nil {
		opts = append(opts,
			session.WithArchive(a.archive),
			session.WithSessionObserver(a.recorder),
		)
	}
	a.manager = session.NewManager(adapter, sessionConfig(cfg), opts...)
	a.metrics.MustRegister(metric.NewCollector(a.manager))

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Sessions = a.manager
	routerCfg.Gateway = a.gateway
	routerCfg.Ready = a.ready
	routerCfg.Logger = log
	routerCfg.CORSAllowedOrigins = cfg.Server.HTTP.CORSOrigins
	routerCfg.RateLimit = cfg.Server.HTTP.RateLimit
	routerCfg.RateBurst = cfg.Server.HTTP.RateBurst
	routerCfg.Tracer = a.tracer
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.metrics
		routerCfg.MetricsPath = cfg.Metrics.Path
	} else {
		routerCfg.MetricsPath = ""
	}

	serverOpts := []httpserver.Option{
		httpserver.WithReadHeaderTimeout(cfg.Server.HTTP.ReadHeaderTimeout),
	}
	if cfg.Server.HTTP.TLSCertFile != "" {
		tlsCfg, err := a.serverTLS()
		if err != nil {
			return fmt.Errorf("init tls: %w", err)
		}
		serverOpts = append(serverOpts, httpserver.WithTLSConfig(tlsCfg))
	}
	a.http = httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg), serverOpts...)
	return nil
}

func (a *app) serverTLS() (*tls.Config, error) {
	h := a.cfg.Server.HTTP
	var err error
	a.certs, err = tlsroots.NewReloader(h.TLSCertFile, h.TLSKeyFile, tlsroots.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	var clientCAs *tlsroots.Pool
	if h.TLSClientCAFile != "" {
		clientCAs = tlsroots.EmptyPool()
		if err := clientCAs.Add(h.TLSClientCAFile); err != nil {
			return nil, err
		}
		a.log.Info("mutual TLS enabled", "client_cas", clientCAs.Len())
	}
	return tlsroots.ServerConfig(a.certs, clientCAs), nil
}

// watchCertificates reloads the TLS pair on change until the returned stop
// function is called.
func (a *app) watchCertificates() func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.certs.Watch(ctx); err != nil {
			a.log.Warn("certificate watch disabled", "error", err)
		}
	}()
	return func() error {
		cancel()
		<-done
		return nil
	}
}

func (a *app) openSession(ctx context.Context, sessionID string) error {
	_, err := a.manager.Open(ctx, sessionID)
	return err
}

// flusher is implemented by buses that can confirm their connection.
type flusher interface {
	Flush() error
}

func (a *app) ready(context.Context) error {
	if a.closing.Load() {
		return errShuttingDown
	}
	if f, ok := a.bus.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}
	return nil
}

// registerShutdown adds the hooks in startup order; they run in reverse,
// so the listener stops first and the archive closes last.
func (a *app) registerShutdown(h *shutdown.Handler) {
	h.OnShutdown("tracer", func(ctx context.Context) error {
		return a.tracer.Shutdown(ctx)
	})
	if a.archive != nil {
		h.OnShutdown("archive", func(context.Context) error {
			return a.archive.Close()
		})
		h.OnShutdown("recorder", func(context.Context) error {
			a.recorder.Close()
			return nil
		})
	}
	if a.bus != nil {
		h.OnShutdown("relay", func(context.Context) error {
			return a.bus.Close()
		})
	}
	h.OnShutdown("sessions", func(ctx context.Context) error {
		return a.manager.Close(ctx)
	})
	h.OnShutdown("gateway", func(context.Context) error {
		a.gateway.Close()
		return nil
	})
	h.OnShutdown("http", func(ctx context.Context) error {
		a.closing.Store(true)
		return a.http.Shutdown(ctx)
	})
}

// closeBackends releases what newApp opened before it failed.
func (a *app) closeBackends() {
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
}

// openArchive returns nil for storage kind "none".
func openArchive(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger, reg *metric.Registry) (storage.Archive, error) {
	switch strings.ToLower(cfg.Storage.Kind) {
	case "", "none":
		log.Warn("no archive configured, sessions are lost when evicted")
		return nil, nil
	case "memory":
		return memory.New(), nil
	case "badger":
		bc := storage.DefaultBadgerConfig(cfg.Storage.DataDir)
		bc.SyncWrites = cfg.Storage.SyncWrites
		if cfg.Storage.GCInterval > 0 {
			bc.GCInterval = cfg.Storage.GCInterval
		}
		if cfg.Security.EncryptionKey != "" {
			c, err := adaptive.FromSecret(cfg.Security.EncryptionKey,
				adaptive.CipherType(strings.ToLower(cfg.Security.Cipher)))
			if err != nil {
				return nil, fmt.Errorf("archive cipher: %w", err)
			}
			log.Info("archive encryption enabled", "cipher", c.Type())
			bc.Cipher = c
		}
		ba, err := storage.NewBadgerArchive(bc, log)
		if err != nil {
			return nil, err
		}
		return ba.RegisterMetrics(reg.Prometheus()), nil
	case "postgres":
		pa, err := pgarchive.Open(ctx, pgarchive.Config{
			DSN:      cfg.Storage.PostgresDSN,
			MaxConns: cfg.Storage.PostgresMaxConns,
		}, log)
		if err != nil {
			return nil, err
		}
		return pa, nil
	}
	return nil, fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
}

func relayConfig(cfg *config.ServerConfig) relay.Config {
	return relay.Config{
		Kind: cfg.Relay.Kind,
		NATS: relay.NATSConfig{
			URL:           cfg.Relay.NATS.URL,
			Name:          "annomesh-server",
			SubjectPrefix: cfg.Relay.NATS.SubjectPrefix,
		},
		Redis: relay.RedisConfig{
			Addr:          cfg.Relay.Redis.Addr,
			Password:      cfg.Relay.Redis.Password,
			DB:            cfg.Relay.Redis.DB,
			ChannelPrefix: cfg.Relay.Redis.ChannelPrefix,
		},
	}
}

func gatewayConfig(cfg *config.ServerConfig) wsgateway.Config {
	ws := cfg.Server.WebSocket
	gc := wsgateway.DefaultConfig()
	gc.MaxMessageSize = ws.MaxMessageSize
	gc.SendBuffer = ws.SendBuffer
	gc.MessageRate = ws.MessageRate
	gc.MessageBurst = ws.MessageBurst
	gc.PongTimeout = ws.PongTimeout
	gc.AllowedOrigins = ws.AllowedOrigins
	return gc
}

func sessionConfig(cfg *config.ServerConfig) session.Config {
	s := cfg.Session
	sc := session.DefaultConfig()
	if s.PresenceThreshold > 0 {
		sc.PresenceThreshold = s.PresenceThreshold
		sc.PresenceEvictAfter = 3 * s.PresenceThreshold
	}
	if s.HistoryCapacity > 0 {
		sc.HistoryCapacity = s.HistoryCapacity
	}
	if s.BacklogSize > 0 {
		sc.BacklogSize = s.BacklogSize
	}
	if s.RetryInterval > 0 {
		sc.RetryInterval = s.RetryInterval
	}
	if s.QueueSize > 0 {
		sc.QueueSize = s.QueueSize
	}
	return sc
}
