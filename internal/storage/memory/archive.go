package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/pkg/cmap"
)

var _ storage.Archive = (*Archive)(nil)

// Archive is an in-memory storage.Archive.
type Archive struct {
	sessions *cmap.Map[string, *record]
	closed   atomic.Bool
}

type record struct {
	mu          sync.Mutex
	annotations map[string]*domain.Annotation
	layers      map[string]*domain.Layer
	seq         uint64
}

func newRecord() *record {
	return &record{
		annotations: make(map[string]*domain.Annotation),
		layers:      make(map[string]*domain.Layer),
	}
}

// New creates an empty archive.
func New() *Archive {
	return &Archive{sessions: cmap.New[string, *record]()}
}

func (a *Archive) record(sessionID string) (*record, error) {
	if a.closed.Load() {
		return nil, storage.ErrClosed
	}
	rec, _ := a.sessions.GetOrSet(sessionID, newRecord())
	return rec, nil
}

// SaveAnnotation implements storage.Archive.
func (a *Archive) SaveAnnotation(_ context.Context, sessionID string, ann *domain.Annotation, seq uint64) error {
	rec, err := a.record(sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.annotations[ann.ID] = ann.Clone()
	rec.seq = max(rec.seq, seq)
	return nil
}

// DeleteAnnotation implements storage.Archive.
func (a *Archive) DeleteAnnotation(_ context.Context, sessionID, annotationID string, seq uint64) error {
	rec, err := a.record(sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.annotations, annotationID)
	rec.seq = max(rec.seq, seq)
	return nil
}

// SaveLayer implements storage.Archive.
func (a *Archive) SaveLayer(_ context.Context, sessionID string, l *domain.Layer) error {
	rec, err := a.record(sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.layers[l.ID] = l.Clone()
	return nil
}

// DeleteLayer implements storage.Archive.
func (a *Archive) DeleteLayer(_ context.Context, sessionID, layerID string) error {
	rec, err := a.record(sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.layers, layerID)
	return nil
}

// ReplaceSession implements storage.Archive.
func (a *Archive) ReplaceSession(_ context.Context, snap *domain.Snapshot) error {
	if a.closed.Load() {
		return storage.ErrClosed
	}
	rec := newRecord()
	for _, ann := range snap.Annotations {
		rec.annotations[ann.ID] = ann.Clone()
	}
	for _, l := range snap.Layers {
		rec.layers[l.ID] = l.Clone()
	}
	rec.seq = snap.Seq
	a.sessions.Set(snap.SessionID, rec)
	return nil
}

// Load implements storage.Archive.
func (a *Archive) Load(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	if a.closed.Load() {
		return nil, storage.ErrClosed
	}
	rec, ok := a.sessions.Get(sessionID)
	if !ok {
		return nil, storage.ErrNotFound
	}

	rec.mu.Lock()
	snap := &domain.Snapshot{
		SessionID:   sessionID,
		Annotations: make([]*domain.Annotation, 0, len(rec.annotations)),
		Layers:      make([]*domain.Layer, 0, len(rec.layers)),
		Seq:         rec.seq,
		TakenAt:     time.Now().UnixMilli(),
	}
	for _, ann := range rec.annotations {
		snap.Annotations = append(snap.Annotations, ann.Clone())
	}
	for _, l := range rec.layers {
		snap.Layers = append(snap.Layers, l.Clone())
	}
	rec.mu.Unlock()

	storage.SortSnapshot(snap)
	return snap, nil
}

// Sessions returns the ids of all archived sessions.
func (a *Archive) Sessions() []string {
	return a.sessions.Keys()
}

// Close implements storage.Archive.
func (a *Archive) Close() error {
	a.closed.Store(true)
	return nil
}
