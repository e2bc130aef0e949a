package pgarchive

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/storage"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// Set ANNOMESH_TEST_PG_DSN to run against a real server.
func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn := os.Getenv("ANNOMESH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ANNOMESH_TEST_PG_DSN not set")
	}
	a, err := Open(context.Background(), Config{DSN: dsn}, logger.Discard())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestOpen_BadDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "postgres://%zz"}, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	session := "pgarchive-test-" + t.Name()

	_ = a.ReplaceSession(ctx, &domain.Snapshot{SessionID: session})

	ann := &domain.Annotation{
		ID: "ann-1", Kind: domain.KindText,
		Geometry:  domain.Geometry{X: 1, Y: 1, Text: "hello"},
		CreatedAt: 10, LayerID: domain.DefaultLayerID,
	}
	if err := a.SaveAnnotation(ctx, session, ann, 3); err != nil {
		t.Fatalf("SaveAnnotation() error = %v", err)
	}
	if err := a.SaveLayer(ctx, session, domain.DefaultLayer()); err != nil {
		t.Fatalf("SaveLayer() error = %v", err)
	}

	snap, err := a.Load(ctx, session)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Seq != 3 || len(snap.Annotations) != 1 || snap.Annotations[0].Geometry.Text != "hello" {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := a.DeleteAnnotation(ctx, session, "ann-1", 4); err != nil {
		t.Fatalf("DeleteAnnotation() error = %v", err)
	}
	snap, _ = a.Load(ctx, session)
	if len(snap.Annotations) != 0 || snap.Seq != 4 {
		t.Errorf("after delete = %+v", snap)
	}

	if _, err := a.Load(ctx, session+"-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load() missing error = %v, want ErrNotFound", err)
	}
}
