package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Annotation constraints.
const (
	MaxAnnotationIDLength = 128
	MaxColorLength        = 64
	MaxTextLength         = 4096
	MaxFreehandPoints     = 10000

	// AnnotationIDPrefix is the prefix of generated annotation IDs.
	AnnotationIDPrefix = "ann-"

	// DefaultLayerID is the implicit layer every session starts with.
	DefaultLayerID = "default"
)

// Kind is the shape of an annotation.
type Kind string

const (
	KindPoint     Kind = "point"
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindArrow     Kind = "arrow"
	KindText      Kind = "text"
	KindFreehand  Kind = "freehand"
)

// Valid returns true if k is a known annotation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPoint, KindRectangle, KindCircle, KindArrow, KindText, KindFreehand:
		return true
	}
	return false
}

// Point is a position on the artifact.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is the kind-dependent payload of an annotation.
//
// X and Y anchor every kind. Width/Height apply to rectangles, Radius to
// circles, End to arrows, Points to freehand strokes, and Text to text notes.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	End    *Point  `json:"end,omitempty"`
	Points []Point `json:"points,omitempty"`
	Text   string  `json:"text,omitempty"`
}

// Clone returns a deep copy of the geometry.
func (g Geometry) Clone() Geometry {
	out := g
	if g.End != nil {
		end := *g.End
		out.End = &end
	}
	if g.Points != nil {
		out.Points = append([]Point(nil), g.Points...)
	}
	return out
}

// Annotation is a single marker on the shared artifact.
type Annotation struct {
	// ID is assigned by the creating client and never changes.
	ID string `json:"id"`

	// Kind is fixed at creation.
	Kind Kind `json:"kind"`

	Geometry Geometry `json:"geometry"`

	// Color is opaque to the engine.
	Color string `json:"color,omitempty"`

	AuthorID string `json:"author_id,omitempty"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// LayerID is the owning layer; empty means DefaultLayerID.
	LayerID string `json:"layer_id"`
}

// NewAnnotationID generates a new annotation ID using ULID.
// Format: ann-{ulid_lowercase}.
func NewAnnotationID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return AnnotationIDPrefix + strings.ToLower(id.String()), nil
}

// EffectiveLayer returns the layer the annotation belongs to.
func (a *Annotation) EffectiveLayer() string {
	if a.LayerID == "" {
		return DefaultLayerID
	}
	return a.LayerID
}

// Clone creates a deep copy of the annotation.
func (a *Annotation) Clone() *Annotation {
	clone := *a
	clone.Geometry = a.Geometry.Clone()
	return &clone
}

// Validate checks the annotation against the per-kind geometry contract.
// Returns ErrValidation with all violations joined in the details.
func (a *Annotation) Validate() error {
	var violations []string

	if a.ID == "" {
		violations = append(violations, "id is required")
	}
	if len(a.ID) > MaxAnnotationIDLength {
		violations = append(violations, fmt.Sprintf("id exceeds %d characters", MaxAnnotationIDLength))
	}
	if !a.Kind.Valid() {
		violations = append(violations, fmt.Sprintf("unknown kind %q", a.Kind))
	} else {
		violations = append(violations, validateGeometry(a.Kind, &a.Geometry)...)
	}
	if len(a.Color) > MaxColorLength {
		violations = append(violations, fmt.Sprintf("color exceeds %d characters", MaxColorLength))
	}

	if len(violations) > 0 {
		return ErrValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

func validateGeometry(kind Kind, g *Geometry) []string {
	var violations []string
	switch kind {
	case KindRectangle:
		if g.Width <= 0 || g.Height <= 0 {
			violations = append(violations, "rectangle requires positive width and height")
		}
	case KindCircle:
		if g.Radius <= 0 {
			violations = append(violations, "circle requires positive radius")
		}
	case KindArrow:
		if g.End == nil {
			violations = append(violations, "arrow requires end point")
		}
	case KindText:
		if g.Text == "" {
			violations = append(violations, "text requires content")
		}
	case KindFreehand:
		if len(g.Points) < 2 {
			violations = append(violations, "freehand requires at least 2 points")
		}
	}
	if len(g.Text) > MaxTextLength {
		violations = append(violations, fmt.Sprintf("text exceeds %d characters", MaxTextLength))
	}
	if len(g.Points) > MaxFreehandPoints {
		violations = append(violations, fmt.Sprintf("path exceeds %d points", MaxFreehandPoints))
	}
	return violations
}

// CreatedAtTime returns CreatedAt as time.Time.
func (a *Annotation) CreatedAtTime() time.Time {
	return time.UnixMilli(a.CreatedAt)
}
