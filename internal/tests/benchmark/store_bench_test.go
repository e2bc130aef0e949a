package benchmark

import (
	"testing"

	"github.com/yndnr/annomesh-go/internal/core/annotation"
	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// BenchmarkStoreCreate benchmarks applying creates to a preloaded store.
func BenchmarkStoreCreate(b *testing.B) {
	runWithCounts(b, AnnotationCounts, func(b *testing.B, count int) {
		store := annotation.NewStore()
		store.Load(snapshotOf("bench", count).Annotations)

		ops := make([]*domain.Operation, b.N)
		for i := range ops {
			ops[i] = createOp(uint64(count+i+1), createAnnotation(i))
		}

		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if _, err := store.Apply(ops[i]); err != nil {
				b.Fatalf("Apply failed: %v", err)
			}
		}
		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkStoreUpdate benchmarks moving existing annotations.
func BenchmarkStoreUpdate(b *testing.B) {
	runWithCounts(b, AnnotationCounts, func(b *testing.B, count int) {
		store := annotation.NewStore()
		anns := snapshotOf("bench", count).Annotations
		store.Load(anns)

		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			x := float64(i)
			op := &domain.Operation{
				Type:         domain.OpUpdate,
				AnnotationID: anns[i%count].ID,
				Patch:        &domain.Patch{X: &x},
				SessionSeq:   uint64(count + i + 1),
				OriginID:     "bench",
				Timestamp:    int64(1<<40 + i),
			}
			if _, err := store.Apply(op); err != nil {
				b.Fatalf("Apply failed: %v", err)
			}
		}
	})
}

// BenchmarkStoreListLayer benchmarks the layer filtered listing used by the
// admin API.
func BenchmarkStoreListLayer(b *testing.B) {
	runWithCounts(b, AnnotationCounts, func(b *testing.B, count int) {
		store := annotation.NewStore()
		store.Load(snapshotOf("bench", count).Annotations)

		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if got := store.List(domain.DefaultLayerID); len(got) != count {
				b.Fatalf("List returned %d, want %d", len(got), count)
			}
		}
	})
}
