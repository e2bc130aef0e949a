package domain

import "strings"

// Field names an independently mergeable part of an annotation.
// Last-writer-wins is tracked per field so that concurrent partial updates
// converge regardless of delivery order.
type Field string

const (
	FieldX      Field = "x"
	FieldY      Field = "y"
	FieldWidth  Field = "width"
	FieldHeight Field = "height"
	FieldRadius Field = "radius"
	FieldEnd    Field = "end"
	FieldPoints Field = "points"
	FieldText   Field = "text"
	FieldColor  Field = "color"
	FieldLayer  Field = "layer"
)

// AllFields lists every mergeable field in a fixed order.
var AllFields = []Field{
	FieldX, FieldY, FieldWidth, FieldHeight, FieldRadius,
	FieldEnd, FieldPoints, FieldText, FieldColor, FieldLayer,
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	// Kind may be echoed by clients; it must match the existing kind.
	Kind *Kind `json:"kind,omitempty"`

	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
	End    *Point   `json:"end,omitempty"`
	Points []Point  `json:"points,omitempty"`
	Text   *string  `json:"text,omitempty"`

	Color   *string `json:"color,omitempty"`
	LayerID *string `json:"layer_id,omitempty"`
}

// Fields returns the fields present in the patch, in AllFields order.
func (p *Patch) Fields() []Field {
	if p == nil {
		return nil
	}
	var out []Field
	for _, f := range AllFields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Has reports whether the patch sets field f.
func (p *Patch) Has(f Field) bool {
	if p == nil {
		return false
	}
	switch f {
	case FieldX:
		return p.X != nil
	case FieldY:
		return p.Y != nil
	case FieldWidth:
		return p.Width != nil
	case FieldHeight:
		return p.Height != nil
	case FieldRadius:
		return p.Radius != nil
	case FieldEnd:
		return p.End != nil
	case FieldPoints:
		return p.Points != nil
	case FieldText:
		return p.Text != nil
	case FieldColor:
		return p.Color != nil
	case FieldLayer:
		return p.LayerID != nil
	}
	return false
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// ApplyField copies field f from the patch onto a.
func (p *Patch) ApplyField(a *Annotation, f Field) {
	g := &a.Geometry
	switch f {
	case FieldX:
		g.X = *p.X
	case FieldY:
		g.Y = *p.Y
	case FieldWidth:
		g.Width = *p.Width
	case FieldHeight:
		g.Height = *p.Height
	case FieldRadius:
		g.Radius = *p.Radius
	case FieldEnd:
		end := *p.End
		g.End = &end
	case FieldPoints:
		g.Points = append([]Point(nil), p.Points...)
	case FieldText:
		g.Text = *p.Text
	case FieldColor:
		a.Color = *p.Color
	case FieldLayer:
		a.LayerID = *p.LayerID
	}
}

// Clone returns a deep copy of the patch.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	out := *p
	if p.Kind != nil {
		k := *p.Kind
		out.Kind = &k
	}
	out.X = cloneFloat(p.X)
	out.Y = cloneFloat(p.Y)
	out.Width = cloneFloat(p.Width)
	out.Height = cloneFloat(p.Height)
	out.Radius = cloneFloat(p.Radius)
	if p.End != nil {
		end := *p.End
		out.End = &end
	}
	if p.Points != nil {
		out.Points = append([]Point(nil), p.Points...)
	}
	out.Text = cloneString(p.Text)
	out.Color = cloneString(p.Color)
	out.LayerID = cloneString(p.LayerID)
	return &out
}

// Validate checks the patch values that can be judged without the target.
func (p *Patch) Validate() error {
	if p.IsEmpty() {
		return ErrValidation.WithDetails("update carries no fields")
	}
	var violations []string
	if p.Kind != nil && !p.Kind.Valid() {
		violations = append(violations, "unknown kind "+string(*p.Kind))
	}
	if p.Width != nil && *p.Width <= 0 {
		violations = append(violations, "width must be positive")
	}
	if p.Height != nil && *p.Height <= 0 {
		violations = append(violations, "height must be positive")
	}
	if p.Radius != nil && *p.Radius <= 0 {
		violations = append(violations, "radius must be positive")
	}
	if p.Points != nil && len(p.Points) > MaxFreehandPoints {
		violations = append(violations, "path exceeds point limit")
	}
	if p.Text != nil && len(*p.Text) > MaxTextLength {
		violations = append(violations, "text exceeds length limit")
	}
	if p.Color != nil && len(*p.Color) > MaxColorLength {
		violations = append(violations, "color exceeds length limit")
	}
	if len(violations) > 0 {
		return ErrValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// PatchFrom builds a patch that restores the given fields of a to their
// current values. It is used to reverse an update.
func PatchFrom(a *Annotation, fields []Field) *Patch {
	p := &Patch{}
	g := a.Geometry.Clone()
	for _, f := range fields {
		switch f {
		case FieldX:
			p.X = cloneFloat(&g.X)
		case FieldY:
			p.Y = cloneFloat(&g.Y)
		case FieldWidth:
			p.Width = cloneFloat(&g.Width)
		case FieldHeight:
			p.Height = cloneFloat(&g.Height)
		case FieldRadius:
			p.Radius = cloneFloat(&g.Radius)
		case FieldEnd:
			if g.End != nil {
				end := *g.End
				p.End = &end
			}
		case FieldPoints:
			p.Points = g.Points
			if p.Points == nil {
				p.Points = []Point{}
			}
		case FieldText:
			p.Text = cloneString(&g.Text)
		case FieldColor:
			color := a.Color
			p.Color = &color
		case FieldLayer:
			layer := a.EffectiveLayer()
			p.LayerID = &layer
		}
	}
	return p
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
