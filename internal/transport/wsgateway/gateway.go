// Package wsgateway is the server side WebSocket transport.
//
// Each session has a hub holding the open connections and the coordinator's
// handler. Replicated messages a client sends are relayed to the other
// connections of the session and handed to the coordinator; commands only go
// to the coordinator. Coordinator broadcasts go to every connection.
package wsgateway

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/wire"
	"github.com/yndnr/annomesh-go/pkg/cmap"
)

// Defaults.
const (
	DefaultMaxMessageSize = 64 << 10
	DefaultSendBuffer     = 256
	DefaultMessageRate    = 50
	DefaultMessageBurst   = 100
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPongTimeout    = 60 * time.Second
)

// Config configures a Gateway.
type Config struct {
	// MaxMessageSize is the largest accepted client frame in bytes.
	MaxMessageSize int64

	// SendBuffer is the per-connection outbound queue. A connection whose
	// queue is full is dropped.
	SendBuffer int

	// MessageRate and MessageBurst limit inbound messages per connection.
	// A zero rate disables the limit.
	MessageRate  float64
	MessageBurst int

	WriteTimeout time.Duration
	PongTimeout  time.Duration

	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts all.
	AllowedOrigins []string
}

// DefaultConfig returns the default gateway settings.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		SendBuffer:     DefaultSendBuffer,
		MessageRate:    DefaultMessageRate,
		MessageBurst:   DefaultMessageBurst,
		WriteTimeout:   DefaultWriteTimeout,
		PongTimeout:    DefaultPongTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = d.MessageBurst
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
}

// OpenFunc makes sure a coordinator for sessionID exists and is subscribed
// to the gateway (directly or through a relay bridge).
type OpenFunc func(ctx context.Context, sessionID string) error

// Gateway accepts WebSocket connections and implements transport.Adapter
// for the coordinators.
type Gateway struct {
	cfg      Config
	open     OpenFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metric.Registry

	hubs *cmap.Map[string, *hub]

	mu     sync.Mutex
	closed bool
}

var _ transport.Adapter = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger.OrDiscard(l) }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(g *Gateway) { g.metrics = metric.OrDiscard(m) }
}

// New creates a gateway. open is called for every connection before the
// upgrade.
func New(cfg Config, open OpenFunc, opts ...Option) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		cfg:     cfg,
		open:    open,
		logger:  logger.Discard(),
		metrics: metric.Discard(),
		hubs:    cmap.New[string, *hub](),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(g.cfg.AllowedOrigins, "*") || slices.Contains(g.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades GET /ws?session=<id>&participant=<id>. A missing
// participant id is replaced by a random one.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if err := domain.ValidateSessionID(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		participantID = uuid.NewString()
	}
	if len(participantID) > domain.MaxSessionIDLength {
		http.Error(w, "participant id too long", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	if err := g.open(r.Context(), sessionID); err != nil {
		g.logger.Warn("session open failed", "session", sessionID, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h, ok := g.hubs.Get(sessionID)
	if !ok {
		http.Error(w, "session not available", http.StatusServiceUnavailable)
		return
	}

	// The upgrade response is written by hand, so carry over the request id
	// a middleware may have set.
	var respHeader http.Header
	if id := w.Header().Get("X-Request-ID"); id != "" {
		respHeader = http.Header{"X-Request-ID": {id}}
	}
	ws, err := g.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// The upgrader already wrote the error response.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		gw:          g,
		hub:         h,
		ws:          ws,
		participant: participantID,
		send:        make(chan []byte, g.cfg.SendBuffer),
		done:        make(chan struct{}),
	}
	if g.cfg.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(g.cfg.MessageRate), g.cfg.MessageBurst)
	}
	if !h.add(c) {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session closed"))
		_ = ws.Close()
		return
	}
	g.metrics.Connections.Inc()
	g.logger.Info("participant connected", "session", sessionID, "participant", participantID,
		"remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

// Send implements transport.Adapter. The payload goes to every connection of
// the session.
func (g *Gateway) Send(_ context.Context, sessionID string, payload []byte) error {
	h, ok := g.hubs.Get(sessionID)
	if !ok {
		return transport.ErrUnknownSession
	}
	h.broadcast(nil, payload)
	return nil
}

// SendTo implements transport.Adapter. The payload goes to every connection
// of participantID.
func (g *Gateway) SendTo(_ context.Context, sessionID, participantID string, payload []byte) error {
	h, ok := g.hubs.Get(sessionID)
	if !ok {
		return transport.ErrUnknownSession
	}
	if h.sendTo(participantID, payload) == 0 {
		return transport.ErrUnknownRecipient
	}
	return nil
}

// Subscribe implements transport.Adapter.
func (g *Gateway) Subscribe(sessionID string, handler transport.Handler) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, transport.ErrClosed
	}
	h := newHub(sessionID, handler)
	if _, loaded := g.hubs.GetOrSet(sessionID, h); loaded {
		return nil, transport.ErrAlreadySubscribed
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.hubs.DeleteIf(sessionID, func(cur *hub) bool { return cur == h })
			h.shutdown("session closed")
		})
	}, nil
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	n := 0
	g.hubs.Range(func(_ string, h *hub) bool {
		n += h.len()
		return true
	})
	return n
}

// Close disconnects every client. Subscribe and new connections fail
// afterwards.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	for _, id := range g.hubs.Keys() {
		if h, ok := g.hubs.Get(id); ok {
			h.shutdown("server shutting down")
		}
	}
}

// hub is the set of connections of one session.
type hub struct {
	sessionID string
	handler   transport.Handler

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

func newHub(sessionID string, handler transport.Handler) *hub {
	return &hub{sessionID: sessionID, handler: handler, conns: make(map[*conn]struct{})}
}

func (h *hub) add(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.conns[c] = struct{}{}
	// Join is announced under the lock so it precedes anything the
	// connection sends.
	h.handler.OnJoin(c.participant)
	h.mu.Unlock()
	return true
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	closed := h.closed
	h.mu.Unlock()
	if ok && !closed {
		h.handler.OnLeave(c.participant)
	}
}

// broadcast queues payload on every connection except from.
func (h *hub) broadcast(from *conn, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if c != from {
			c.enqueue(payload)
		}
	}
}

func (h *hub) sendTo(participantID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		if c.participant == participantID {
			c.enqueue(payload)
			n++
		}
	}
	return n
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *hub) shutdown(reason string) {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, reason)
	}
}

// conn is one WebSocket connection.
type conn struct {
	gw          *Gateway
	hub         *hub
	ws          *websocket.Conn
	participant string
	limiter     *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue never blocks; a connection that cannot keep up is dropped.
func (c *conn) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		c.gw.logger.Warn("slow connection dropped", "session", c.hub.sessionID, "participant", c.participant)
		go c.close(websocket.ClosePolicyViolation, "send buffer full")
	}
}

func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *conn) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close(websocket.CloseNormalClosure, "")
		c.gw.metrics.Connections.Dec()
		c.gw.logger.Info("participant disconnected", "session", c.hub.sessionID, "participant", c.participant)
	}()

	c.ws.SetReadLimit(c.gw.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongTimeout))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("websocket read failed", "participant", c.participant, "error", err)
			}
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.reject(domain.ErrRateLimited)
			continue
		}
		t, err := wire.PeekType(payload)
		if err != nil {
			c.reject(domain.ErrBadRequest.WithCause(err))
			continue
		}
		if t.Relayed() {
			c.hub.broadcast(c, payload)
		}
		c.hub.handler.OnMessage(c.participant, payload)
	}
}

func (c *conn) reject(err error) {
	payload, encErr := wire.EncodeError(err)
	if encErr == nil {
		c.enqueue(payload)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			return
		}
	}
}

