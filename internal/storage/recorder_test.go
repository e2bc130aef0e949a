package storage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/internal/storage/memory"
	"github.com/yndnr/annomesh-go/internal/telemetry/metric"
)

func createOp(sessionSeq uint64, a *domain.Annotation) (*domain.Operation, domain.Effect) {
	op := &domain.Operation{Type: domain.OpCreate, AnnotationID: a.ID, Annotation: a, SessionSeq: sessionSeq, OriginID: "alice"}
	return op, domain.Effect{After: a}
}

func point(id string, createdAt int64) *domain.Annotation {
	return &domain.Annotation{ID: id, Kind: domain.KindPoint, CreatedAt: createdAt, LayerID: domain.DefaultLayerID}
}

func TestRecorder_WritesInOrder(t *testing.T) {
	ctx := context.Background()
	archive := memory.New()
	rec := storage.NewRecorder(archive, storage.WithWriters(3))
	defer rec.Close()

	for i := 1; i <= 20; i++ {
		op, eff := createOp(uint64(i), point(fmt.Sprintf("ann-%02d", i), int64(i)))
		rec.AnnotationChanged("s1", op, eff)
	}
	rec.AnnotationChanged("s1", &domain.Operation{Type: domain.OpDelete, AnnotationID: "ann-01", SessionSeq: 21}, domain.Effect{})
	rec.LayerChanged("s1", &domain.Layer{ID: "lyr-1", Name: "L1", Visible: true}, false)

	if err := rec.Flush(ctx, "s1"); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	snap, err := archive.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.Annotations) != 19 {
		t.Errorf("len(Annotations) = %d, want 19", len(snap.Annotations))
	}
	if snap.Seq != 21 {
		t.Errorf("Seq = %d, want 21", snap.Seq)
	}
	if len(snap.Layers) != 1 {
		t.Errorf("len(Layers) = %d, want 1", len(snap.Layers))
	}
}

func TestRecorder_SkipsNoopEffects(t *testing.T) {
	ctx := context.Background()
	archive := memory.New()
	rec := storage.NewRecorder(archive)
	defer rec.Close()

	rec.AnnotationChanged("s1", &domain.Operation{Type: domain.OpUpdate, AnnotationID: "x"}, domain.Effect{Superseded: true})
	_ = rec.Flush(ctx, "s1")

	if _, err := archive.Load(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("superseded update should not be archived, Load() error = %v", err)
	}
}

func TestRecorder_SnapshotLoaded(t *testing.T) {
	ctx := context.Background()
	archive := memory.New()
	rec := storage.NewRecorder(archive)
	defer rec.Close()

	rec.SnapshotLoaded(&domain.Snapshot{
		SessionID:   "s1",
		Annotations: []*domain.Annotation{point("ann-1", 1)},
		Seq:         9,
	})
	_ = rec.Flush(ctx, "s1")

	snap, err := archive.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Seq != 9 || len(snap.Annotations) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

// blockingArchive holds every write until released.
type blockingArchive struct {
	storage.Archive
	release chan struct{}
	mu      sync.Mutex
	saved   int
}

func (b *blockingArchive) SaveAnnotation(ctx context.Context, sessionID string, a *domain.Annotation, seq uint64) error {
	<-b.release
	b.mu.Lock()
	b.saved++
	b.mu.Unlock()
	return nil
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	archive := &blockingArchive{Archive: memory.New(), release: make(chan struct{})}
	metrics := metric.NewRegistry()
	rec := storage.NewRecorder(archive,
		storage.WithWriters(1),
		storage.WithQueueSize(2),
		storage.WithRecorderMetrics(metrics))

	// One write is taken by the writer and blocks, two fill the queue, the
	// rest are dropped.
	for i := 0; i < 10; i++ {
		op, eff := createOp(uint64(i+1), point(fmt.Sprintf("ann-%d", i), 1))
		rec.AnnotationChanged("s1", op, eff)
		time.Sleep(time.Millisecond)
	}
	close(archive.release)
	rec.Close()

	archive.mu.Lock()
	saved := archive.saved
	archive.mu.Unlock()
	if saved >= 10 || saved < 2 {
		t.Errorf("saved = %d, want between 2 and 9", saved)
	}

	// Writes after Close are ignored.
	op, eff := createOp(99, point("ann-late", 1))
	rec.AnnotationChanged("s1", op, eff)
	if err := rec.Flush(context.Background(), "s1"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Flush() after Close error = %v, want ErrClosed", err)
	}
}
