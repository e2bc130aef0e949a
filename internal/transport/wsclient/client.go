// Package wsclient is the participant side WebSocket transport.
//
// A Client acts for one participant. Each subscribed session keeps its own
// connection to the gateway and redials with exponential backoff when it
// drops. The coordinator sees a connect as the participant joining and a
// drop as it leaving; messages arrive attributed to the server ("").
package wsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/transport"
)

// Defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadTimeout      = 90 * time.Second
	DefaultInitialBackoff   = 250 * time.Millisecond
	DefaultMaxBackoff       = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	// URL is the gateway endpoint, e.g. ws://localhost:7480/ws.
	URL string

	// ParticipantID identifies this client. A random id is used when empty.
	ParticipantID string

	// Header is sent with every handshake.
	Header http.Header

	// TLSConfig is used for wss:// URLs. Nil uses the system roots.
	TLSConfig *tls.Config

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// ReadTimeout closes a connection that received nothing, not even a
	// ping, for this long.
	ReadTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ParticipantID == "" {
		c.ParticipantID = uuid.NewString()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// Client is a transport.Adapter for one participant.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

var _ transport.Adapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.OrDiscard(l) }
}

// New creates a client. Nothing is dialed until Subscribe.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsclient: gateway URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("wsclient: invalid gateway URL: %w", err)
	}
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, TLSClientConfig: cfg.TLSConfig},
		logger:   logger.Discard(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParticipantID returns the id this client connects as.
func (c *Client) ParticipantID() string { return c.cfg.ParticipantID }

// Connected reports whether the session currently has a live connection.
func (c *Client) Connected(sessionID string) bool {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	return ok && s.current() != nil
}

// Send implements transport.Adapter. The gateway relays the payload to the
// other participants and the server coordinator.
func (c *Client) Send(_ context.Context, sessionID string, payload []byte) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return transport.ErrUnknownSession
	}
	return s.write(payload)
}

// SendTo implements transport.Adapter. The only peer a client can address is
// the server, "".
func (c *Client) SendTo(ctx context.Context, sessionID, participantID string, payload []byte) error {
	if participantID != "" {
		return transport.ErrUnknownRecipient
	}
	return c.Send(ctx, sessionID, payload)
}

// Subscribe implements transport.Adapter. It starts the connection loop for
// sessionID and returns immediately; the handler sees OnJoin once connected.
func (c *Client) Subscribe(sessionID string, h transport.Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	if _, ok := c.sessions[sessionID]; ok {
		return nil, transport.ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		client: c,
		id:     sessionID,
		h:      h,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.sessions[sessionID] = s
	go s.run(ctx)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.sessions, sessionID)
			c.mu.Unlock()
			s.stop()
		})
	}, nil
}

// Close stops every session.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

func (c *Client) endpoint(sessionID string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("participant", c.cfg.ParticipantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session is the connection loop of one subscribed session.
type session struct {
	client *Client
	id     string
	h      transport.Handler
	cancel context.CancelFunc
	done   chan struct{}

	// writeMu serializes writers; mu guards ws.
	writeMu sync.Mutex
	mu      sync.Mutex
	ws      *websocket.Conn
}

func (s *session) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws
}

func (s *session) write(payload []byte) error {
	ws := s.current()
	if ws == nil {
		return transport.ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(s.client.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		// The read loop notices the broken connection and redials.
		_ = ws.Close()
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	}
	return nil
}

func (s *session) stop() {
	s.cancel()
	if ws := s.current(); ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}
	<-s.done
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	cfg := s.client.cfg
	log := s.client.logger.With("session", s.id, "participant", cfg.ParticipantID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0

	for {
		target, err := s.client.endpoint(s.id)
		if err != nil {
			log.Error("invalid gateway URL", "error", err)
			return
		}
		ws, resp, err := s.client.dialer.DialContext(ctx, target, cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			b.Reset()
			s.serve(ctx, ws, log)
		} else if ctx.Err() == nil {
			log.Warn("gateway dial failed", "url", logger.RedactURL(cfg.URL), "error", err)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// serve runs one connection until it fails or ctx is cancelled.
func (s *session) serve(ctx context.Context, ws *websocket.Conn, log *slog.Logger) {
	readTimeout := s.client.cfg.ReadTimeout
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.ws = ws
	s.mu.Unlock()

	self := s.client.cfg.ParticipantID
	log.Info("connected to gateway")
	s.h.OnJoin(self)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("gateway connection lost", "error", err)
			}
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		s.h.OnMessage("", payload)
	}

	s.mu.Lock()
	s.ws = nil
	s.mu.Unlock()
	_ = ws.Close()
	s.h.OnLeave(self)
}
