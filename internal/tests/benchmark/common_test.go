package benchmark

import (
	"crypto/rand"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// AnnotationCounts are the session sizes benchmarks preload.
var AnnotationCounts = []int{100, 1000, 10000}

func newAnnotationID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, _ := ulid.New(ulid.Timestamp(time.Now()), entropy)
	return "ann-" + strings.ToLower(id.String())
}

// createAnnotation returns a rectangle on the default layer.
func createAnnotation(i int) *domain.Annotation {
	return &domain.Annotation{
		ID:        newAnnotationID(),
		Kind:      domain.KindRectangle,
		Geometry:  domain.Geometry{X: float64(i % 1920), Y: float64(i % 1080), Width: 40, Height: 30},
		Color:     "#ff0000",
		AuthorID:  fmt.Sprintf("user-%d", i%16),
		CreatedAt: time.Now().UnixMilli(),
		LayerID:   domain.DefaultLayerID,
	}
}

func createOp(seq uint64, a *domain.Annotation) *domain.Operation {
	return &domain.Operation{
		Type:         domain.OpCreate,
		AnnotationID: a.ID,
		Annotation:   a,
		SessionSeq:   seq,
		OriginID:     a.AuthorID,
		Timestamp:    int64(seq),
	}
}

// snapshotOf builds a snapshot holding count annotations.
func snapshotOf(sessionID string, count int) *domain.Snapshot {
	anns := make([]*domain.Annotation, count)
	for i := range anns {
		anns[i] = createAnnotation(i)
	}
	return &domain.Snapshot{
		SessionID:   sessionID,
		Seq:         uint64(count),
		Annotations: anns,
		Layers:      []*domain.Layer{domain.DefaultLayer()},
		TakenAt:     time.Now().UnixMilli(),
	}
}

// reportMemory reports heap usage after a forced GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

func runWithCounts(b *testing.B, counts []int, fn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("annotations_%d", count), func(b *testing.B) {
			fn(b, count)
		})
	}
}

func sizeLabel(n int) string {
	if n >= 1024 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}
