package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
)

// Default recorder settings.
const (
	DefaultWriters      = 4
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// Recorder writes session changes to an Archive asynchronously.
//
// Each session is pinned to one writer goroutine by murmur3(sessionID), so
// writes of a session are applied in the order the coordinator produced
// them while different sessions proceed in parallel. When a writer's queue
// is full the write is dropped and counted; the live session is unaffected.
//
// Recorder implements session.Observer.
type Recorder struct {
	archive Archive
	logger  *slog.Logger
	metrics *metric.Registry

	writers      int
	queueSize    int
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queues []chan write
	wg     sync.WaitGroup
}

type write struct {
	kind      string
	sessionID string
	fn        func(ctx context.Context) error
	done      chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithWriters sets the number of writer goroutines.
func WithWriters(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.writers = n
		}
	}
}

// WithQueueSize sets the per-writer queue bound.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger.OrDiscard(l)
	}
}

// WithRecorderMetrics sets the metrics registry.
func WithRecorderMetrics(m *metric.Registry) RecorderOption {
	return func(r *Recorder) {
		r.metrics = metric.OrDiscard(m)
	}
}

// NewRecorder starts the writer pool.
func NewRecorder(archive Archive, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		archive:      archive,
		logger:       logger.Discard(),
		metrics:      metric.Discard(),
		writers:      DefaultWriters,
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.queues = make([]chan write, r.writers)
	for i := range r.queues {
		r.queues[i] = make(chan write, r.queueSize)
		r.wg.Add(1)
		go r.loop(r.queues[i])
	}
	return r
}

func (r *Recorder) loop(queue <-chan write) {
	defer r.wg.Done()
	for w := range queue {
		if w.fn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
			err := w.fn(ctx)
			cancel()
			if err != nil {
				r.metrics.ArchiveWrites.WithLabelValues(w.kind, "error").Inc()
				r.logger.Warn("archive write failed", "session", w.sessionID, "kind", w.kind, "error", err)
			} else {
				r.metrics.ArchiveWrites.WithLabelValues(w.kind, "ok").Inc()
			}
		}
		if w.done != nil {
			close(w.done)
		}
	}
}

func (r *Recorder) writerFor(sessionID string) int {
	return int(murmur3.Sum32([]byte(sessionID)) % uint32(len(r.queues)))
}

func (r *Recorder) enqueue(w write) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queues[r.writerFor(w.sessionID)] <- w:
	default:
		r.metrics.ArchiveDropped.Inc()
		r.logger.Warn("archive queue full, write dropped", "session", w.sessionID, "kind", w.kind)
	}
}

// AnnotationChanged records the effect of an applied operation.
func (r *Recorder) AnnotationChanged(sessionID string, op *domain.Operation, eff domain.Effect) {
	seq := op.SessionSeq
	if op.Type == domain.OpDelete {
		id := op.AnnotationID
		r.enqueue(write{kind: "annotation_delete", sessionID: sessionID, fn: func(ctx context.Context) error {
			return r.archive.DeleteAnnotation(ctx, sessionID, id, seq)
		}})
		return
	}
	if eff.After == nil {
		return
	}
	a := eff.After.Clone()
	r.enqueue(write{kind: "annotation", sessionID: sessionID, fn: func(ctx context.Context) error {
		return r.archive.SaveAnnotation(ctx, sessionID, a, seq)
	}})
}

// LayerChanged records a layer definition change.
func (r *Recorder) LayerChanged(sessionID string, l *domain.Layer, deleted bool) {
	if l == nil {
		return
	}
	if deleted {
		id := l.ID
		r.enqueue(write{kind: "layer_delete", sessionID: sessionID, fn: func(ctx context.Context) error {
			return r.archive.DeleteLayer(ctx, sessionID, id)
		}})
		return
	}
	cp := l.Clone()
	r.enqueue(write{kind: "layer", sessionID: sessionID, fn: func(ctx context.Context) error {
		return r.archive.SaveLayer(ctx, sessionID, cp)
	}})
}

// SnapshotLoaded replaces the archived session with snap.
func (r *Recorder) SnapshotLoaded(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	cp := snap.Clone()
	r.enqueue(write{kind: "snapshot", sessionID: snap.SessionID, fn: func(ctx context.Context) error {
		return r.archive.ReplaceSession(ctx, cp)
	}})
}

// Flush waits until every write queued for sessionID before the call has
// been applied.
func (r *Recorder) Flush(ctx context.Context, sessionID string) error {
	done := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	select {
	case r.queues[r.writerFor(sessionID)] <- write{sessionID: sessionID, done: done}:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queues and stops the writers. The archive itself is not
// closed.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
