package annotation

import (
	"errors"
	"sort"
	"testing"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

func rect(id string) *domain.Annotation {
	return &domain.Annotation{
		ID:       id,
		Kind:     domain.KindRectangle,
		Geometry: domain.Geometry{X: 1, Y: 1, Width: 10, Height: 10},
		Color:    "red",
	}
}

func point(id string) *domain.Annotation {
	return &domain.Annotation{ID: id, Kind: domain.KindPoint, Geometry: domain.Geometry{X: 5, Y: 5}}
}

func createOp(a *domain.Annotation, seq uint64, origin string, ts int64) *domain.Operation {
	return &domain.Operation{
		Type: domain.OpCreate, AnnotationID: a.ID, Annotation: a,
		SessionSeq: seq, OriginID: origin, Timestamp: ts,
	}
}

func updateOp(id string, p *domain.Patch, seq uint64, origin string, ts int64) *domain.Operation {
	return &domain.Operation{
		Type: domain.OpUpdate, AnnotationID: id, Patch: p,
		SessionSeq: seq, OriginID: origin, Timestamp: ts,
	}
}

func deleteOp(id string, seq uint64, origin string, ts int64) *domain.Operation {
	return &domain.Operation{
		Type: domain.OpDelete, AnnotationID: id,
		SessionSeq: seq, OriginID: origin, Timestamp: ts,
	}
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func ids(anns []*domain.Annotation) []string {
	out := make([]string, len(anns))
	for i, a := range anns {
		out[i] = a.ID
	}
	return out
}

func mustApply(t *testing.T, s *Store, op *domain.Operation) domain.Effect {
	t.Helper()
	eff, err := s.Apply(op)
	if err != nil {
		t.Fatalf("Apply(%s %s) error = %v", op.Type, op.AnnotationID, err)
	}
	return eff
}

func TestStore_Create(t *testing.T) {
	s := NewStore()
	eff := mustApply(t, s, createOp(rect("a1"), 1, "A", 100))

	if eff.After == nil || eff.After.ID != "a1" {
		t.Fatalf("Effect.After = %+v", eff.After)
	}
	if eff.After.LayerID != domain.DefaultLayerID {
		t.Errorf("LayerID = %q, want default", eff.After.LayerID)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	_, err := s.Apply(createOp(rect("a1"), 2, "B", 101))
	if !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("duplicate create error = %v, want ErrDuplicateID", err)
	}
}

func TestStore_CreateRejectsInvalidGeometry(t *testing.T) {
	s := NewStore()
	bad := &domain.Annotation{ID: "c", Kind: domain.KindCircle}
	if _, err := s.Apply(createOp(bad, 1, "A", 1)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if s.Len() != 0 {
		t.Error("rejected create must not change state")
	}
}

func TestStore_UpdateMergesPresentFieldsOnly(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 100))

	eff := mustApply(t, s, updateOp("a1", &domain.Patch{X: f64(50)}, 2, "A", 110))
	if eff.Before.Geometry.X != 1 {
		t.Errorf("Before.X = %v, want 1", eff.Before.Geometry.X)
	}

	got, _ := s.Get("a1")
	if got.Geometry.X != 50 {
		t.Errorf("X = %v, want 50", got.Geometry.X)
	}
	if got.Geometry.Y != 1 || got.Geometry.Width != 10 || got.Color != "red" {
		t.Errorf("unset fields changed: %+v", got)
	}
}

func TestStore_UpdateErrors(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 100))

	circle := domain.KindCircle
	rectangle := domain.KindRectangle
	tests := []struct {
		name string
		op   *domain.Operation
		want error
	}{
		{"unknown id", updateOp("nope", &domain.Patch{X: f64(1)}, 2, "A", 101), domain.ErrAnnotationNotFound},
		{"kind change", updateOp("a1", &domain.Patch{Kind: &circle, X: f64(1)}, 3, "A", 102), domain.ErrKindImmutable},
		{"invalid merged text", updateOp("a1", &domain.Patch{Width: f64(-1)}, 4, "A", 103), domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Apply(tt.op); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := s.Apply(updateOp("a1", &domain.Patch{Kind: &rectangle, X: f64(9)}, 5, "A", 104)); err != nil {
		t.Errorf("echoing the existing kind should be accepted: %v", err)
	}
}

func TestStore_IdempotentDelete(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 100))

	eff := mustApply(t, s, deleteOp("a1", 2, "A", 110))
	if eff.After == nil || eff.After.ID != "a1" || eff.Noop {
		t.Errorf("first delete effect = %+v", eff)
	}
	if _, ok := s.Get("a1"); ok {
		t.Error("Get() after delete should return none")
	}

	eff = mustApply(t, s, deleteOp("a1", 1, "B", 111))
	if !eff.Noop {
		t.Error("second delete should be a no-op")
	}
	if _, ok := s.Get("a1"); ok {
		t.Error("Get() after second delete should return none")
	}

	if _, err := s.Apply(deleteOp("never", 3, "A", 120)); !errors.Is(err, domain.ErrAnnotationNotFound) {
		t.Errorf("delete of unseen id error = %v, want ErrAnnotationNotFound", err)
	}
	if _, err := s.Apply(updateOp("a1", &domain.Patch{X: f64(3)}, 4, "A", 130)); !errors.Is(err, domain.ErrAnnotationNotFound) {
		t.Errorf("update of tombstone error = %v, want ErrAnnotationNotFound", err)
	}
}

func TestStore_Resurrection(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 100))
	mustApply(t, s, deleteOp("a1", 2, "A", 110))

	eff := mustApply(t, s, createOp(rect("a1"), 3, "A", 120))
	if eff.After == nil {
		t.Fatal("create of tombstoned id should re-create it")
	}
	if !s.Exists("a1") {
		t.Fatal("a1 should be live again")
	}

	// A delete stamped before the re-creation targeted the old incarnation.
	eff = mustApply(t, s, deleteOp("a1", 1, "B", 115))
	if !eff.Superseded || !s.Exists("a1") {
		t.Errorf("stale delete effect = %+v, live = %v", eff, s.Exists("a1"))
	}
}

func TestStore_CreateBuriedByNewerDelete(t *testing.T) {
	// del(5), del(12), create(10) must end deleted, like del(5), create(10), del(12).
	orders := [][]int{{0, 1, 2}, {0, 2, 1}}
	for _, order := range orders {
		s := NewStore()
		mustApply(t, s, createOp(rect("a1"), 1, "A", 1))
		ops := []*domain.Operation{
			deleteOp("a1", 2, "A", 5),
			createOp(rect("a1"), 3, "A", 10),
			deleteOp("a1", 1, "B", 12),
		}
		for _, i := range order {
			mustApply(t, s, ops[i])
		}
		if s.Exists("a1") {
			t.Errorf("order %v: a1 should be deleted", order)
		}
	}
}

func TestStore_LWWDeterminism(t *testing.T) {
	older := updateOp("a1", &domain.Patch{X: f64(10), Color: str("blue")}, 2, "B", 200)
	newer := updateOp("a1", &domain.Patch{X: f64(20), Color: str("green")}, 2, "A", 300)

	for _, order := range [][]*domain.Operation{{older, newer}, {newer, older}} {
		s := NewStore()
		mustApply(t, s, createOp(rect("a1"), 1, "A", 100))
		for _, op := range order {
			mustApply(t, s, op)
		}
		got, _ := s.Get("a1")
		if got.Geometry.X != 20 || got.Color != "green" {
			t.Errorf("got X=%v color=%s, want newer version", got.Geometry.X, got.Color)
		}
	}
}

func TestStore_LWWTieBreaksOnOrigin(t *testing.T) {
	a := updateOp("a1", &domain.Patch{Color: str("from-a")}, 2, "A", 300)
	b := updateOp("a1", &domain.Patch{Color: str("from-b")}, 2, "B", 300)

	for _, order := range [][]*domain.Operation{{a, b}, {b, a}} {
		s := NewStore()
		mustApply(t, s, createOp(rect("a1"), 1, "A", 100))
		for _, op := range order {
			mustApply(t, s, op)
		}
		got, _ := s.Get("a1")
		if got.Color != "from-b" {
			t.Errorf("Color = %q, want from-b", got.Color)
		}
	}
}

func TestStore_SupersededUpdate(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 100))
	mustApply(t, s, updateOp("a1", &domain.Patch{X: f64(5)}, 2, "A", 300))

	eff := mustApply(t, s, updateOp("a1", &domain.Patch{X: f64(7)}, 1, "B", 200))
	if !eff.Superseded {
		t.Error("older update should be superseded")
	}

	// Partial win: Y is untouched by the newer write, so it applies.
	eff = mustApply(t, s, updateOp("a1", &domain.Patch{X: f64(8), Y: f64(9)}, 2, "B", 250))
	if eff.Superseded {
		t.Fatal("update with a winning field is not superseded")
	}
	got, _ := s.Get("a1")
	if got.Geometry.X != 5 || got.Geometry.Y != 9 {
		t.Errorf("got X=%v Y=%v, want X=5 Y=9", got.Geometry.X, got.Geometry.Y)
	}
}

// Replicas applying the same set of operations on distinct ids in any order
// end with set-equal lists.
func TestStore_Convergence(t *testing.T) {
	ops := []*domain.Operation{
		createOp(rect("a1"), 1, "A", 100),
		createOp(point("b1"), 1, "B", 101),
		createOp(point("c1"), 1, "C", 102),
		deleteOp("c2-missing", 9, "C", 1),
	}
	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {1, 2, 0}}

	var want []string
	for i, perm := range perms {
		s := NewStore()
		for _, j := range perm {
			mustApply(t, s, ops[j])
		}
		if _, err := s.Apply(ops[3]); !errors.Is(err, domain.ErrAnnotationNotFound) {
			t.Fatalf("unexpected error %v", err)
		}
		got := ids(s.List())
		sort.Strings(got)
		if i == 0 {
			want = got
			continue
		}
		if len(got) != len(want) {
			t.Fatalf("perm %v: %v, want %v", perm, got, want)
		}
		for k := range got {
			if got[k] != want[k] {
				t.Fatalf("perm %v: %v, want %v", perm, got, want)
			}
		}
	}
}

func TestStore_ListOrderAndLayerFilter(t *testing.T) {
	s := NewStore()
	a := rect("a")
	b := point("b")
	b.LayerID = "l1"
	c := point("c")
	mustApply(t, s, createOp(a, 1, "A", 1))
	mustApply(t, s, createOp(b, 2, "A", 2))
	mustApply(t, s, createOp(c, 3, "A", 3))

	if got := ids(s.List()); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("List() = %v, want creation order", got)
	}
	if got := ids(s.List("l1")); len(got) != 1 || got[0] != "b" {
		t.Errorf("List(l1) = %v", got)
	}
	if got := ids(s.List(domain.DefaultLayerID)); len(got) != 2 {
		t.Errorf("List(default) = %v", got)
	}
	if n := s.CountInLayer("l1"); n != 1 {
		t.Errorf("CountInLayer(l1) = %d", n)
	}

	mustApply(t, s, updateOp("a", &domain.Patch{LayerID: str("l1")}, 4, "A", 4))
	if got := s.IDsInLayer("l1"); len(got) != 2 || got[0] != "a" {
		t.Errorf("IDsInLayer(l1) = %v", got)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("a1"), 1, "A", 1))
	got, _ := s.Get("a1")
	got.Color = "mutated"
	again, _ := s.Get("a1")
	if again.Color != "red" {
		t.Error("Get() must not expose internal state")
	}
}

func TestStore_Load(t *testing.T) {
	s := NewStore()
	mustApply(t, s, createOp(rect("old"), 1, "A", 1))

	s.Load([]*domain.Annotation{point("p1"), rect("r1"), point("p1")})
	if s.Len() != 2 || s.Exists("old") {
		t.Fatalf("Load() should replace state, got %v", ids(s.List()))
	}
	if got := ids(s.Snapshot()); got[0] != "p1" || got[1] != "r1" {
		t.Errorf("Snapshot() = %v", got)
	}

	// Any later write wins over loaded state.
	mustApply(t, s, updateOp("r1", &domain.Patch{Color: str("blue")}, 1, "B", 1))
	got, _ := s.Get("r1")
	if got.Color != "blue" {
		t.Errorf("Color = %q, want blue", got.Color)
	}
}
