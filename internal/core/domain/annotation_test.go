package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestAnnotation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ann     Annotation
		wantErr bool
	}{
		{"point", Annotation{ID: "a", Kind: KindPoint, Geometry: Geometry{X: 1, Y: 2}}, false},
		{"rectangle", Annotation{ID: "a", Kind: KindRectangle, Geometry: Geometry{Width: 10, Height: 5}}, false},
		{"rectangle zero height", Annotation{ID: "a", Kind: KindRectangle, Geometry: Geometry{Width: 10}}, true},
		{"circle", Annotation{ID: "a", Kind: KindCircle, Geometry: Geometry{Radius: 3}}, false},
		{"circle no radius", Annotation{ID: "a", Kind: KindCircle}, true},
		{"arrow", Annotation{ID: "a", Kind: KindArrow, Geometry: Geometry{End: &Point{X: 5, Y: 5}}}, false},
		{"arrow no end", Annotation{ID: "a", Kind: KindArrow}, true},
		{"text", Annotation{ID: "a", Kind: KindText, Geometry: Geometry{Text: "note"}}, false},
		{"text empty", Annotation{ID: "a", Kind: KindText}, true},
		{"freehand", Annotation{ID: "a", Kind: KindFreehand, Geometry: Geometry{Points: []Point{{0, 0}, {1, 1}}}}, false},
		{"freehand one point", Annotation{ID: "a", Kind: KindFreehand, Geometry: Geometry{Points: []Point{{0, 0}}}}, true},
		{"unknown kind", Annotation{ID: "a", Kind: "hexagon"}, true},
		{"missing id", Annotation{Kind: KindPoint}, true},
		{"id too long", Annotation{ID: strings.Repeat("x", MaxAnnotationIDLength+1), Kind: KindPoint}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ann.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAnnotation_CloneIsDeep(t *testing.T) {
	a := &Annotation{
		ID:   "a",
		Kind: KindFreehand,
		Geometry: Geometry{
			End:    &Point{X: 1, Y: 1},
			Points: []Point{{0, 0}, {1, 1}},
		},
	}
	c := a.Clone()
	c.Geometry.End.X = 99
	c.Geometry.Points[0].X = 99

	if a.Geometry.End.X != 1 || a.Geometry.Points[0].X != 0 {
		t.Error("Clone should not share geometry storage")
	}
}

func TestAnnotation_EffectiveLayer(t *testing.T) {
	a := &Annotation{ID: "a"}
	if got := a.EffectiveLayer(); got != DefaultLayerID {
		t.Errorf("EffectiveLayer() = %q, want %q", got, DefaultLayerID)
	}
	a.LayerID = "l1"
	if got := a.EffectiveLayer(); got != "l1" {
		t.Errorf("EffectiveLayer() = %q, want l1", got)
	}
}

func TestNewAnnotationID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewAnnotationID()
		if err != nil {
			t.Fatalf("NewAnnotationID() error = %v", err)
		}
		if !strings.HasPrefix(id, AnnotationIDPrefix) {
			t.Errorf("id %q missing prefix", id)
		}
		if len(id) != len(AnnotationIDPrefix)+26 {
			t.Errorf("id length = %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
