package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/telemetry/tracer"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/pkg/cmap"
)

// Manager owns the live coordinators of a node.
//
// A session is opened on first use, seeded from the archive when one is
// configured, and closed after it has been without participants for the
// idle timeout.
type Manager struct {
	cfg         Config
	idleTimeout time.Duration
	transport   transport.Adapter
	archive     storage.Archive
	observer    Observer
	logger      *slog.Logger
	metrics     *metric.Registry
	tracer      *tracer.Provider
	now         func() time.Time

	sessions *cmap.Map[string, *managed]

	// openMu serializes Open so a session is never created twice.
	openMu sync.Mutex
	closed bool
}

type managed struct {
	coord       *Coordinator
	unsubscribe func()

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithArchive seeds new sessions from a.
func WithArchive(a storage.Archive) ManagerOption {
	return func(m *Manager) { m.archive = a }
}

// WithSessionObserver attaches o to every coordinator the manager creates.
func WithSessionObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithIdleTimeout sets how long a session without participants is kept.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger.OrDiscard(l) }
}

// WithManagerMetrics sets the metrics registry.
func WithManagerMetrics(r *metric.Registry) ManagerOption {
	return func(m *Manager) { m.metrics = metric.OrDiscard(r) }
}

// WithManagerTracer sets the span provider handed to coordinators.
func WithManagerTracer(t *tracer.Provider) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithManagerClock overrides the clock handed to coordinators.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager whose coordinators use cfg and adapter.
func NewManager(adapter transport.Adapter, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         cfg,
		idleTimeout: DefaultIdleTimeout,
		transport:   adapter,
		logger:      logger.Discard(),
		metrics:     metric.Discard(),
		tracer:      tracer.Noop(),
		now:         time.Now,
		sessions:    cmap.New[string, *managed](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg.applyDefaults()
	return m
}

// Open returns the live coordinator for sessionID, creating it if needed.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Coordinator, error) {
	if e, ok := m.sessions.Get(sessionID); ok && e.coord.State() != domain.SessionClosed {
		return e.coord, nil
	}
	ctx, span := m.tracer.Start(ctx, "session.open", attribute.String("session.id", sessionID))
	coord, err := m.open(ctx, sessionID)
	tracer.End(span, err)
	return coord, err
}

func (m *Manager) open(ctx context.Context, sessionID string) (*Coordinator, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if e, ok := m.sessions.Get(sessionID); ok && e.coord.State() != domain.SessionClosed {
		return e.coord, nil
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()
	if m.closed {
		return nil, domain.ErrSessionClosed.WithDetails("manager closed")
	}
	if e, ok := m.sessions.Get(sessionID); ok {
		if e.coord.State() != domain.SessionClosed {
			return e.coord, nil
		}
		m.dropLocked(sessionID, e)
	}

	e := &managed{}
	opts := []Option{
		WithLogger(m.logger),
		WithMetrics(m.metrics),
		WithTracer(m.tracer),
		WithClock(m.now),
		WithStateListener(func(c *Coordinator, from, to domain.SessionState) {
			m.stateChanged(e, from, to)
		}),
	}
	if m.observer != nil {
		opts = append(opts, WithObserver(m.observer))
	}
	coord := NewCoordinator(sessionID, m.transport, m.cfg, opts...)
	e.coord = coord
	coord.Start()

	if err := m.seed(ctx, coord); err != nil {
		coord.Close()
		return nil, err
	}

	// A session nobody joins is evicted like a drained one.
	m.arm(e)

	cancel, err := m.transport.Subscribe(sessionID, coord)
	if err != nil {
		m.disarm(e)
		coord.Close()
		return nil, domain.ErrTransportFailure.WithCause(err)
	}
	e.unsubscribe = cancel
	m.sessions.Set(sessionID, e)

	m.metrics.SessionsOpened.Inc()
	m.metrics.SessionsActive.Inc()
	m.logger.Info("session opened", "session", sessionID)
	return coord, nil
}

func (m *Manager) seed(ctx context.Context, coord *Coordinator) error {
	if m.archive == nil {
		return nil
	}
	snap, err := m.archive.Load(ctx, coord.ID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if err := coord.Restore(ctx, snap); err != nil {
		return err
	}
	m.logger.Info("session restored from archive",
		"session", coord.ID(), "annotations", len(snap.Annotations), "seq", snap.Seq)
	return nil
}

// Get returns a live coordinator.
func (m *Manager) Get(sessionID string) (*Coordinator, bool) {
	e, ok := m.sessions.Get(sessionID)
	if !ok || e.coord.State() == domain.SessionClosed {
		return nil, false
	}
	return e.coord, true
}

// List returns summaries of the live sessions sorted by id.
func (m *Manager) List() []domain.SessionSummary {
	var out []domain.SessionSummary
	m.sessions.Range(func(_ string, e *managed) bool {
		if e.coord.State() != domain.SessionClosed {
			out = append(out, e.coord.Summary())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Count()
}

// CloseSession closes a session regardless of its participants.
func (m *Manager) CloseSession(sessionID string) error {
	e, ok := m.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound.WithDetails(sessionID)
	}
	m.disarm(e)
	m.drop(sessionID, e)
	e.coord.Close()
	m.logger.Info("session closed", "session", sessionID)
	return nil
}

// Close closes every session. Open fails afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.openMu.Lock()
	m.closed = true
	m.openMu.Unlock()

	var wg sync.WaitGroup
	for _, id := range m.sessions.Keys() {
		e, ok := m.sessions.Get(id)
		if !ok {
			continue
		}
		m.disarm(e)
		m.drop(id, e)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.coord.Close()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drop removes e from the registry and the transport if it is still the
// entry registered for sessionID.
func (m *Manager) drop(sessionID string, e *managed) {
	m.openMu.Lock()
	defer m.openMu.Unlock()
	m.dropLocked(sessionID, e)
}

func (m *Manager) dropLocked(sessionID string, e *managed) {
	if m.sessions.DeleteIf(sessionID, func(cur *managed) bool { return cur == e }) {
		m.metrics.SessionsActive.Dec()
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// stateChanged runs on the coordinator goroutine. It only touches the
// timer, never the coordinator.
func (m *Manager) stateChanged(e *managed, _, to domain.SessionState) {
	switch to {
	case domain.SessionDraining:
		m.arm(e)
	case domain.SessionActive, domain.SessionClosed:
		m.disarm(e)
	}
}

func (m *Manager) arm(e *managed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(m.idleTimeout, func() { m.evict(e, gen) })
}

func (m *Manager) disarm(e *managed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// evict closes an idle session. A timer whose generation was superseded
// by a later arm or disarm does nothing.
func (m *Manager) evict(e *managed, gen uint64) {
	e.mu.Lock()
	stale := e.gen != gen
	e.mu.Unlock()
	if stale || e.coord.State() == domain.SessionClosed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout+time.Second)
	defer cancel()
	closed, err := e.coord.closeIfIdle(ctx)
	if err != nil || !closed {
		return
	}
	id := e.coord.ID()
	m.drop(id, e)
	m.metrics.SessionsEvicted.Inc()
	m.logger.Info("idle session evicted", "session", id)
}
