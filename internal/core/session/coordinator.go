package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/annomesh-go/internal/core/annotation"
	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/history"
	"github.com/yndnr/annomesh-go/internal/core/layer"
	"github.com/yndnr/annomesh-go/internal/core/presence"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
	"github.com/yndnr/annomesh-go/internal/telemetry/tracer"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/wire"
)

// Coordinator owns one session.
type Coordinator struct {
	id        string
	cfg       Config
	transport transport.Adapter
	logger    *slog.Logger
	metrics   *metric.Registry
	tracer    *tracer.Provider
	now       func() time.Time
	observer  Observer
	onState   StateListener

	// Owned by the run goroutine.
	store        *annotation.Store
	layers       *layer.Manager
	histories    map[string]*history.Stack
	participants map[string]int
	maxSeen      map[string]uint64
	seq          uint64
	lastTS       int64
	backlog      [][]byte

	resnapshotRequired bool

	// pendingSnapshots counts snapshots a replica expects from the
	// authority. Snapshots arriving while it is zero are ignored.
	pendingSnapshots int

	// snapshotStale is set when a replica changed state while disconnected
	// or while a snapshot was outstanding. The snapshot may predate the
	// change, so another one is requested once it loads.
	snapshotStale bool
	selfJoined    bool

	// Presence path.
	presenceMu sync.Mutex
	presence   *presence.Tracker

	// departed holds participants that left, so presence frames still in
	// flight from them do not recreate their pointer.
	departed map[string]time.Time

	// Published by the run goroutine for lock-free reads.
	state      atomic.Int32
	statSeq    atomic.Uint64
	statAnns   atomic.Int64
	statLayers atomic.Int64
	statPeople atomic.Int64
	statQueued atomic.Int64

	// inboundDropped is set when the inbound queue overflowed.
	inboundDropped atomic.Bool

	queue     chan func()
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator in the Forming state. Call Start to
// begin processing.
func NewCoordinator(sessionID string, adapter transport.Adapter, cfg Config, opts ...Option) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		id:           sessionID,
		cfg:          cfg,
		transport:    adapter,
		logger:       logger.Discard(),
		metrics:      metric.Discard(),
		tracer:       tracer.Noop(),
		now:          time.Now,
		histories:    make(map[string]*history.Stack),
		participants: make(map[string]int),
		maxSeen:      make(map[string]uint64),
		departed:     make(map[string]time.Time),
		queue:        make(chan func(), cfg.QueueSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session", sessionID)
	c.store = annotation.NewStore()
	c.layers = layer.NewManager(c.store, layer.WithClock(c.now))
	c.presence = presence.NewTracker(cfg.PresenceThreshold)
	c.state.Store(int32(domain.SessionForming))
	c.publishStats()
	return c
}

// ID returns the session id.
func (c *Coordinator) ID() string { return c.id }

// State returns the lifecycle state.
func (c *Coordinator) State() domain.SessionState {
	return domain.SessionState(c.state.Load())
}

// Summary returns counters published after the last processed request.
func (c *Coordinator) Summary() domain.SessionSummary {
	return domain.SessionSummary{
		ID:           c.id,
		State:        c.State().String(),
		Participants: int(c.statPeople.Load()),
		Annotations:  int(c.statAnns.Load()),
		Layers:       int(c.statLayers.Load()),
		Seq:          c.statSeq.Load(),
	}
}

// BacklogLen returns the number of broadcasts waiting for the transport.
func (c *Coordinator) BacklogLen() int {
	return int(c.statQueued.Load())
}

// Start launches the queue goroutine.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Close moves the session to Closed and stops the queue goroutine.
// It is safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		started := true
		c.startOnce.Do(func() {
			started = false
			close(c.doneCh)
		})
		if !started {
			c.setState(domain.SessionClosed)
			close(c.stopCh)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
		defer cancel()
		err := c.do(ctx, func() {
			c.metrics.Participants.Sub(float64(len(c.participants)))
			c.setState(domain.SessionClosed)
		})
		if err != nil {
			c.setState(domain.SessionClosed)
		}
		close(c.stopCh)
		<-c.doneCh
	})
}

// closeIfIdle closes the session if nobody is connected. A join queued
// before the check keeps the session open.
func (c *Coordinator) closeIfIdle(ctx context.Context) (bool, error) {
	idle := false
	err := c.do(ctx, func() {
		st := c.State()
		idle = len(c.participants) == 0 && (st == domain.SessionForming || st == domain.SessionDraining)
		if idle {
			c.setState(domain.SessionClosed)
		}
	})
	if err != nil || !idle {
		return false, err
	}
	c.Close()
	return true, nil
}

func (c *Coordinator) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.queue:
			fn()
			c.publishStats()
		case <-ticker.C:
			c.tick()
			c.publishStats()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) tick() {
	if len(c.backlog) > 0 || c.resnapshotRequired {
		c.flushBacklog()
	}
	if !c.cfg.Authority && c.selfJoined && c.snapshotStale && c.pendingSnapshots == 0 {
		c.requestSnapshot()
	}
	if c.inboundDropped.Swap(false) {
		c.logger.Warn("inbound queue overflowed, requesting snapshot")
		if !c.cfg.Authority {
			c.requestSnapshot()
		}
	}

	now := c.now()
	c.presenceMu.Lock()
	pruned := c.presence.Prune(now, c.cfg.PresenceEvictAfter)
	for id, at := range c.departed {
		if now.Sub(at) > c.presence.Threshold() {
			delete(c.departed, id)
		}
	}
	c.presenceMu.Unlock()
	if pruned > 0 {
		c.logger.Debug("presence pruned", "count", pruned)
	}
}

func (c *Coordinator) publishStats() {
	c.statSeq.Store(c.seq)
	c.statAnns.Store(int64(c.store.Len()))
	c.statLayers.Store(int64(c.layers.Len()))
	c.statPeople.Store(int64(len(c.participants)))
	c.statQueued.Store(int64(len(c.backlog)))
}

// do runs fn on the queue goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if c.State() == domain.SessionClosed {
		return domain.ErrSessionClosed.WithDetails(c.id)
	}
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case c.queue <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return domain.ErrSessionClosed.WithDetails(c.id)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return domain.ErrSessionClosed.WithDetails(c.id)
	}
}

// post enqueues fn without waiting. Used from transport callbacks, which
// must not block.
func (c *Coordinator) post(fn func()) {
	select {
	case <-c.stopCh:
		return
	default:
	}
	select {
	case c.queue <- fn:
	default:
		c.inboundDropped.Store(true)
		c.logger.Error("inbound queue full, message dropped")
	}
}

func (c *Coordinator) setState(to domain.SessionState) {
	from := c.State()
	if from == to || !from.CanTransition(to) {
		return
	}
	c.state.Store(int32(to))
	c.logger.Info("session state changed", "from", from.String(), "to", to.String())
	if c.onState != nil {
		c.onState(c, from, to)
	}
}

// ============================================================================
// Operations
// ============================================================================

// SubmitLocal sequences, applies, records and broadcasts a draft issued by
// participantID. Validation and policy errors are returned to the caller and
// nothing is broadcast.
func (c *Coordinator) SubmitLocal(ctx context.Context, participantID string, draft domain.OperationDraft) (*domain.Operation, error) {
	ctx, span := c.tracer.Start(ctx, "session.submit",
		attribute.String("session.id", c.id),
		attribute.String("participant.id", participantID),
		attribute.String("op.type", string(draft.Type)))
	var (
		op  *domain.Operation
		err error
	)
	if derr := c.do(ctx, func() { op, err = c.submit(participantID, draft, true) }); derr != nil {
		tracer.End(span, derr)
		return nil, derr
	}
	if op != nil {
		span.SetAttributes(attribute.Int64("op.seq", int64(op.SessionSeq)))
	}
	tracer.End(span, err)
	return op, err
}

// ReceiveRemote applies an operation sequenced by another coordinator.
// Duplicates are dropped; benign races are logged and absorbed.
func (c *Coordinator) ReceiveRemote(ctx context.Context, op *domain.Operation) error {
	ctx, span := c.tracer.Start(ctx, "session.receive",
		attribute.String("session.id", c.id),
		attribute.String("op.origin", op.OriginID),
		attribute.Int64("op.seq", int64(op.SessionSeq)))
	var err error
	if derr := c.do(ctx, func() { err = c.receive(op) }); derr != nil {
		tracer.End(span, derr)
		return derr
	}
	tracer.End(span, err)
	return err
}

// Undo reverses participantID's most recent undoable operation. It returns
// nil without error when there is nothing to undo.
func (c *Coordinator) Undo(ctx context.Context, participantID string) (*domain.Operation, error) {
	var (
		op  *domain.Operation
		err error
	)
	if derr := c.do(ctx, func() { op, err = c.undo(participantID) }); derr != nil {
		return nil, derr
	}
	return op, err
}

// Redo reapplies participantID's most recently undone operation. It returns
// nil without error when there is nothing to redo.
func (c *Coordinator) Redo(ctx context.Context, participantID string) (*domain.Operation, error) {
	var (
		op  *domain.Operation
		err error
	)
	if derr := c.do(ctx, func() { op, err = c.redo(participantID) }); derr != nil {
		return nil, derr
	}
	return op, err
}

// nextStamp returns a timestamp strictly greater than any local or remote
// timestamp seen so far, so a participant's later edit always wins over
// edits it has already observed.
func (c *Coordinator) nextStamp() int64 {
	ts := c.now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

func (c *Coordinator) submit(participantID string, draft domain.OperationDraft, record bool) (*domain.Operation, error) {
	if participantID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("participant id")
	}
	if err := c.prepareCreate(participantID, &draft); err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, c.reject(participantID, err)
	}
	if err := c.checkLayerPolicy(&draft); err != nil {
		return nil, c.reject(participantID, err)
	}

	op := &domain.Operation{
		Type:         draft.Type,
		AnnotationID: draft.TargetID(),
		Annotation:   draft.Annotation,
		Patch:        draft.Patch,
		OriginID:     participantID,
		Timestamp:    c.nextStamp(),
	}
	eff, err := c.store.Apply(op)
	if err != nil {
		return nil, c.reject(participantID, err)
	}

	c.seq++
	op.SessionSeq = c.seq
	c.maxSeen[participantID] = op.SessionSeq

	if record && eff.Changed() {
		c.historyFor(participantID).Record(domain.HistoryEntry{Op: *op, Before: eff.Before})
	}
	c.notifyApplied(op, eff)
	c.metrics.OpsApplied.WithLabelValues("local", string(op.Type)).Inc()

	payload, err := wire.EncodeOp(op)
	if err != nil {
		c.logger.Error("encode op failed", "error", err)
		return op, nil
	}
	c.broadcast(payload)
	return op, nil
}

// prepareCreate fills server-assigned defaults of a create draft.
func (c *Coordinator) prepareCreate(participantID string, d *domain.OperationDraft) error {
	if d.Type != domain.OpCreate || d.Annotation == nil {
		return nil
	}
	a := d.Annotation.Clone()
	if a.ID == "" {
		a.ID = d.AnnotationID
	}
	if a.ID == "" {
		id, err := domain.NewAnnotationID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.AuthorID == "" {
		a.AuthorID = participantID
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = c.now().UnixMilli()
	}
	if a.LayerID == "" {
		a.LayerID = domain.DefaultLayerID
	}
	d.Annotation = a
	d.AnnotationID = a.ID
	return nil
}

func (c *Coordinator) checkLayerPolicy(d *domain.OperationDraft) error {
	switch d.Type {
	case domain.OpCreate:
		return c.layers.CheckAssignable(d.Annotation.LayerID)
	case domain.OpUpdate:
		if d.Patch.LayerID != nil {
			return c.layers.CheckAssignable(*d.Patch.LayerID)
		}
	}
	return nil
}

func (c *Coordinator) reject(participantID string, err error) error {
	c.metrics.OpsRejected.WithLabelValues(domain.GetErrorCode(err)).Inc()
	if domain.IsBenign(err) {
		c.logger.Debug("local operation lost a race", "participant", participantID, "error", err)
	} else {
		c.logger.Info("local operation rejected", "participant", participantID, "error", err)
	}
	return err
}

func (c *Coordinator) receive(op *domain.Operation) error {
	if op.SessionSeq <= c.maxSeen[op.OriginID] {
		c.metrics.OpsDuplicate.Inc()
		return nil
	}
	c.maxSeen[op.OriginID] = op.SessionSeq
	if op.SessionSeq > c.seq {
		c.seq = op.SessionSeq
	}
	if op.Timestamp > c.lastTS {
		c.lastTS = op.Timestamp
	}

	eff, err := c.store.Apply(op)
	if err != nil {
		if domain.IsBenign(err) {
			c.metrics.BenignConflicts.Inc()
			c.logger.Debug("remote operation absorbed",
				"origin", op.OriginID, "seq", op.SessionSeq, "error", err)
			// A replica still waiting for its snapshot may be missing the
			// target; the snapshot can predate the op, so ask again.
			c.noteChange()
			return nil
		}
		c.logger.Warn("remote operation rejected",
			"origin", op.OriginID, "seq", op.SessionSeq, "error", err)
		return err
	}
	c.notifyApplied(op, eff)
	c.metrics.OpsApplied.WithLabelValues("remote", string(op.Type)).Inc()
	return nil
}

func (c *Coordinator) undo(participantID string) (*domain.Operation, error) {
	st, ok := c.histories[participantID]
	if !ok {
		return nil, nil
	}
	d, ok := st.Undo()
	if !ok || d.Type == "" {
		return nil, nil
	}
	return c.submit(participantID, d, false)
}

func (c *Coordinator) redo(participantID string) (*domain.Operation, error) {
	st, ok := c.histories[participantID]
	if !ok {
		return nil, nil
	}
	d, ok := st.Redo()
	if !ok {
		return nil, nil
	}
	return c.submit(participantID, d, false)
}

func (c *Coordinator) historyFor(participantID string) *history.Stack {
	st, ok := c.histories[participantID]
	if !ok {
		st = history.NewStack(history.WithCapacity(c.cfg.HistoryCapacity))
		c.histories[participantID] = st
	}
	return st
}

func (c *Coordinator) notifyApplied(op *domain.Operation, eff domain.Effect) {
	if !eff.Changed() {
		return
	}
	c.noteChange()
	c.reconcileLayers(op, eff)
	if c.observer != nil {
		c.observer.AnnotationChanged(c.id, op, eff)
	}
}

// CanUndo reports whether participantID has an undoable operation.
func (c *Coordinator) CanUndo(ctx context.Context, participantID string) (bool, error) {
	var ok bool
	err := c.do(ctx, func() {
		st, found := c.histories[participantID]
		ok = found && st.CanUndo()
	})
	return ok, err
}

// Get returns a live annotation.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.Annotation, bool, error) {
	var (
		a  *domain.Annotation
		ok bool
	)
	err := c.do(ctx, func() { a, ok = c.store.Get(id) })
	return a, ok, err
}

// List returns live annotations in creation order, optionally filtered by layer.
func (c *Coordinator) List(ctx context.Context, layers ...string) ([]*domain.Annotation, error) {
	var out []*domain.Annotation
	err := c.do(ctx, func() { out = c.store.List(layers...) })
	return out, err
}

// ============================================================================
// Participants
// ============================================================================

// HandleParticipantJoin registers a participant and, on authority
// coordinators, sends it the current snapshot.
func (c *Coordinator) HandleParticipantJoin(ctx context.Context, participantID string) (*domain.Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "session.join",
		attribute.String("session.id", c.id),
		attribute.String("participant.id", participantID))
	var snap *domain.Snapshot
	err := c.do(ctx, func() { snap = c.join(participantID) })
	tracer.End(span, err)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// HandleParticipantLeave unregisters a participant and drops its presence.
func (c *Coordinator) HandleParticipantLeave(ctx context.Context, participantID string) error {
	return c.do(ctx, func() { c.leave(participantID) })
}

// Participants returns the number of distinct connected participants.
func (c *Coordinator) Participants() int {
	return int(c.statPeople.Load())
}

func (c *Coordinator) join(participantID string) *domain.Snapshot {
	if participantID == "" {
		return nil
	}
	c.participants[participantID]++
	if c.participants[participantID] == 1 {
		c.presenceMu.Lock()
		delete(c.departed, participantID)
		c.presenceMu.Unlock()
		c.metrics.Participants.Inc()
		c.logger.Info("participant joined", "participant", participantID, "participants", len(c.participants))
	}
	c.setState(domain.SessionActive)

	if participantID == c.cfg.LocalID && !c.cfg.Authority {
		// The authority pushes a snapshot to every joiner. Edits queued while
		// disconnected go out first and a second snapshot is requested behind
		// them, so the last snapshot loaded includes them.
		c.selfJoined = true
		c.pendingSnapshots = 1
		if len(c.backlog) > 0 || c.resnapshotRequired {
			resync := c.resnapshotRequired
			c.flushBacklog()
			// A completed resync already asked for a snapshot.
			if !resync && len(c.backlog) == 0 {
				c.requestSnapshot()
			}
		}
		return nil
	}
	if !c.cfg.Authority {
		return nil
	}
	snap := c.snapshot()
	c.sendSnapshot(participantID, snap)
	return snap
}

func (c *Coordinator) leave(participantID string) {
	if participantID == c.cfg.LocalID && !c.cfg.Authority {
		c.selfJoined = false
	}
	n, ok := c.participants[participantID]
	if !ok {
		return
	}
	if n > 1 {
		c.participants[participantID] = n - 1
		return
	}
	delete(c.participants, participantID)
	c.metrics.Participants.Dec()

	c.presenceMu.Lock()
	c.presence.Remove(participantID)
	c.departed[participantID] = c.now()
	c.presenceMu.Unlock()

	c.logger.Info("participant left", "participant", participantID, "participants", len(c.participants))
	if len(c.participants) == 0 {
		c.setState(domain.SessionDraining)
	}
}

// ============================================================================
// Presence
// ============================================================================

// UpdatePresence records participantID's pointer and broadcasts it.
// Presence is lossy: a failed broadcast is not retried.
func (c *Coordinator) UpdatePresence(participantID string, pos domain.Point) error {
	if c.State() == domain.SessionClosed {
		return domain.ErrSessionClosed.WithDetails(c.id)
	}
	now := c.now()
	c.presenceMu.Lock()
	c.presence.Update(participantID, pos, now)
	c.presenceMu.Unlock()
	c.metrics.PresenceUpdates.Inc()

	payload, err := wire.Encode(wire.TypePresence, &wire.Presence{
		UserID: participantID, X: pos.X, Y: pos.Y, TS: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, c.id, payload); err != nil {
		return domain.ErrTransportFailure.WithCause(err)
	}
	return nil
}

// Presence returns the live presence records sorted by user id.
func (c *Coordinator) Presence() []domain.PresenceRecord {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	return c.presence.Snapshot(c.now())
}

func (c *Coordinator) recordRemotePresence(participantID string, p *wire.Presence) {
	userID := participantID
	if userID == "" {
		userID = p.UserID
	}
	c.presenceMu.Lock()
	if _, gone := c.departed[userID]; gone {
		c.presenceMu.Unlock()
		return
	}
	c.presence.Update(userID, domain.Point{X: p.X, Y: p.Y}, c.now())
	c.presenceMu.Unlock()
	c.metrics.PresenceUpdates.Inc()
}

// ============================================================================
// Snapshots
// ============================================================================

// Snapshot returns the current state of the session.
func (c *Coordinator) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	if err := c.do(ctx, func() { snap = c.snapshot() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadSnapshot replaces the session state. History stacks are cleared
// because their pre-states no longer describe the store.
func (c *Coordinator) LoadSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return c.do(ctx, func() { c.load(snap, true) })
}

// Restore seeds the session from archived state. Unlike LoadSnapshot the
// observer is not notified, so the archive is not rewritten with its own
// contents.
func (c *Coordinator) Restore(ctx context.Context, snap *domain.Snapshot) error {
	return c.do(ctx, func() { c.load(snap, false) })
}

// RequestSnapshot asks the authority for a fresh snapshot.
func (c *Coordinator) RequestSnapshot(ctx context.Context) error {
	return c.do(ctx, c.requestSnapshot)
}

func (c *Coordinator) snapshot() *domain.Snapshot {
	return &domain.Snapshot{
		SessionID:   c.id,
		Annotations: c.store.Snapshot(),
		Layers:      c.layers.List(),
		Seq:         c.seq,
		TakenAt:     c.now().UnixMilli(),
	}
}

func (c *Coordinator) load(snap *domain.Snapshot, notify bool) {
	if snap == nil {
		return
	}
	c.store.Load(snap.Annotations)
	c.layers.Load(snap.Layers)
	if snap.Seq > c.seq {
		c.seq = snap.Seq
	}
	if snap.TakenAt > c.lastTS {
		c.lastTS = snap.TakenAt
	}
	for _, st := range c.histories {
		st.Reset()
	}
	if c.pendingSnapshots > 0 {
		c.pendingSnapshots--
	}
	if c.pendingSnapshots == 0 && c.snapshotStale && c.selfJoined {
		c.requestSnapshot()
	}
	if notify && c.observer != nil {
		c.observer.SnapshotLoaded(snap)
	}
	c.logger.Info("snapshot loaded", "annotations", len(snap.Annotations), "layers", len(snap.Layers), "seq", snap.Seq)
}

func (c *Coordinator) sendSnapshot(participantID string, snap *domain.Snapshot) {
	payload, err := wire.EncodeSnapshot(snap)
	if err != nil {
		c.logger.Error("encode snapshot failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()
	if err := c.transport.SendTo(ctx, c.id, participantID, payload); err != nil {
		c.logger.Warn("snapshot delivery failed", "participant", participantID, "error", err)
	}
}

// requestSnapshot asks the authority for a snapshot. A request that cannot
// be sent is retried from tick.
func (c *Coordinator) requestSnapshot() {
	payload, _ := wire.Encode(wire.TypeSnapshotRequest, nil)
	if err := c.send(payload); err != nil {
		c.snapshotStale = true
		c.logger.Warn("snapshot request failed", "error", err)
		return
	}
	c.pendingSnapshots++
	c.snapshotStale = false
}

// noteChange marks state changed at a point where an expected snapshot may
// not include it.
func (c *Coordinator) noteChange() {
	if c.cfg.Authority {
		return
	}
	if !c.selfJoined || c.pendingSnapshots > 0 {
		c.snapshotStale = true
	}
}

// ============================================================================
// Broadcast and backlog
// ============================================================================

func (c *Coordinator) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()
	return c.transport.Send(ctx, c.id, payload)
}

// broadcast sends payload or, while the transport is failing, queues it
// behind earlier broadcasts so ordering is kept.
func (c *Coordinator) broadcast(payload []byte) {
	if len(c.backlog) > 0 {
		c.enqueueBacklog(payload)
		c.flushBacklog()
		return
	}
	if err := c.send(payload); err != nil {
		c.metrics.BroadcastFailures.Inc()
		c.logger.Warn("broadcast failed, queued for retry", "error", err)
		c.enqueueBacklog(payload)
	}
}

func (c *Coordinator) enqueueBacklog(payload []byte) {
	if len(c.backlog) >= c.cfg.BacklogSize {
		c.backlog[0] = nil
		c.backlog = c.backlog[1:]
		c.metrics.BacklogDropped.Inc()
		if !c.resnapshotRequired {
			c.logger.Warn("broadcast backlog overflowed, resync required", "limit", c.cfg.BacklogSize)
		}
		c.resnapshotRequired = true
	}
	c.backlog = append(c.backlog, payload)
}

func (c *Coordinator) flushBacklog() {
	for len(c.backlog) > 0 {
		if err := c.send(c.backlog[0]); err != nil {
			return
		}
		c.backlog[0] = nil
		c.backlog = c.backlog[1:]
	}
	if !c.resnapshotRequired {
		return
	}

	payload, _ := wire.Encode(wire.TypeResync, nil)
	if err := c.send(payload); err != nil {
		return
	}
	c.resnapshotRequired = false
	c.metrics.Resyncs.Inc()
	c.logger.Info("resync broadcast after backlog overflow")
	if !c.cfg.Authority {
		c.requestSnapshot()
	}
}

func (c *Coordinator) sendError(participantID string, err error) {
	if participantID == "" || errors.Is(err, domain.ErrSessionClosed) {
		return
	}
	payload, encErr := wire.EncodeError(err)
	if encErr != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()
	if sendErr := c.transport.SendTo(ctx, c.id, participantID, payload); sendErr != nil {
		c.logger.Debug("error delivery failed", "participant", participantID, "error", sendErr)
	}
}
