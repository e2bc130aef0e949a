package wire

import (
	"errors"
	"fmt"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// FromOperation converts a sequenced operation to its wire form.
func FromOperation(op *domain.Operation) *Op {
	out := &Op{
		Type:         op.Type,
		AnnotationID: op.AnnotationID,
		SessionSeq:   op.SessionSeq,
		OriginID:     op.OriginID,
		TS:           op.Timestamp,
	}
	fillPayload(op.Type, op.Annotation, op.Patch, &out.Kind, &out.Geometry, &out.Color, &out.LayerID)
	if op.Type == domain.OpCreate && op.Annotation != nil {
		out.AuthorID = op.Annotation.AuthorID
		out.CreatedAt = op.Annotation.CreatedAt
	}
	return out
}

// Operation converts the wire form back to a sequenced operation.
func (m *Op) Operation() (*domain.Operation, error) {
	if m.OriginID == "" {
		return nil, domain.ErrValidation.WithDetails("op without originId")
	}
	d, err := draftFrom(m.Type, m.AnnotationID, m.Kind, m.Geometry, m.Color, m.LayerID)
	if err != nil {
		return nil, err
	}
	if d.Annotation != nil {
		d.Annotation.AuthorID = m.AuthorID
		d.Annotation.CreatedAt = m.CreatedAt
	}
	return &domain.Operation{
		Type:         d.Type,
		AnnotationID: d.AnnotationID,
		Annotation:   d.Annotation,
		Patch:        d.Patch,
		SessionSeq:   m.SessionSeq,
		OriginID:     m.OriginID,
		Timestamp:    m.TS,
	}, nil
}

// FromDraft converts a draft to a submit message.
func FromDraft(d *domain.OperationDraft) *Submit {
	out := &Submit{Type: d.Type, AnnotationID: d.TargetID()}
	fillPayload(d.Type, d.Annotation, d.Patch, &out.Kind, &out.Geometry, &out.Color, &out.LayerID)
	return out
}

// Draft converts a submit message to a draft.
func (m *Submit) Draft() (domain.OperationDraft, error) {
	return draftFrom(m.Type, m.AnnotationID, m.Kind, m.Geometry, m.Color, m.LayerID)
}

func fillPayload(t domain.OpType, a *domain.Annotation, p *domain.Patch,
	kind **domain.Kind, geom **Geometry, color, layer **string) {
	switch t {
	case domain.OpCreate:
		if a == nil {
			return
		}
		k := a.Kind
		*kind = &k
		*geom = fullGeometry(a.Geometry)
		c := a.Color
		*color = &c
		l := a.EffectiveLayer()
		*layer = &l
	case domain.OpUpdate:
		if p == nil {
			return
		}
		c := p.Clone()
		*kind = c.Kind
		*geom = &Geometry{
			X: c.X, Y: c.Y, Width: c.Width, Height: c.Height, Radius: c.Radius,
			End: c.End, Points: c.Points, Text: c.Text,
		}
		*color = c.Color
		*layer = c.LayerID
	}
}

func fullGeometry(g domain.Geometry) *Geometry {
	g = g.Clone()
	out := &Geometry{X: &g.X, Y: &g.Y, End: g.End, Points: g.Points}
	if g.Width != 0 {
		out.Width = &g.Width
	}
	if g.Height != 0 {
		out.Height = &g.Height
	}
	if g.Radius != 0 {
		out.Radius = &g.Radius
	}
	if g.Text != "" {
		out.Text = &g.Text
	}
	return out
}

func draftFrom(t domain.OpType, id string, kind *domain.Kind, g *Geometry,
	color, layer *string) (domain.OperationDraft, error) {
	switch t {
	case domain.OpCreate:
		if kind == nil {
			return domain.OperationDraft{}, domain.ErrValidation.WithDetails("create without kind")
		}
		a := &domain.Annotation{ID: id, Kind: *kind}
		if g != nil {
			a.Geometry = g.toGeometry()
		}
		if color != nil {
			a.Color = *color
		}
		if layer != nil {
			a.LayerID = *layer
		}
		return domain.OperationDraft{Type: t, AnnotationID: id, Annotation: a}, nil
	case domain.OpUpdate:
		p := &domain.Patch{Kind: kind, Color: color, LayerID: layer}
		if g != nil {
			p.X, p.Y, p.Width, p.Height, p.Radius = g.X, g.Y, g.Width, g.Height, g.Radius
			p.End, p.Points, p.Text = g.End, g.Points, g.Text
		}
		return domain.OperationDraft{Type: t, AnnotationID: id, Patch: p.Clone()}, nil
	case domain.OpDelete:
		return domain.OperationDraft{Type: t, AnnotationID: id}, nil
	}
	return domain.OperationDraft{}, domain.ErrValidation.WithDetails(fmt.Sprintf("unknown operation type %q", t))
}

func (g *Geometry) toGeometry() domain.Geometry {
	var out domain.Geometry
	if g.X != nil {
		out.X = *g.X
	}
	if g.Y != nil {
		out.Y = *g.Y
	}
	if g.Width != nil {
		out.Width = *g.Width
	}
	if g.Height != nil {
		out.Height = *g.Height
	}
	if g.Radius != nil {
		out.Radius = *g.Radius
	}
	if g.End != nil {
		end := *g.End
		out.End = &end
	}
	if g.Points != nil {
		out.Points = append([]domain.Point(nil), g.Points...)
	}
	if g.Text != nil {
		out.Text = *g.Text
	}
	return out
}

// FromSnapshot converts a domain snapshot to its wire form.
func FromSnapshot(s *domain.Snapshot) *Snapshot {
	out := &Snapshot{
		SessionID:   s.SessionID,
		Annotations: make([]Annotation, 0, len(s.Annotations)),
		Layers:      make([]Layer, 0, len(s.Layers)),
		Seq:         s.Seq,
		TS:          s.TakenAt,
	}
	for _, a := range s.Annotations {
		out.Annotations = append(out.Annotations, Annotation{
			ID: a.ID, Kind: a.Kind, Geometry: a.Geometry.Clone(), Color: a.Color,
			AuthorID: a.AuthorID, CreatedAt: a.CreatedAt, LayerID: a.EffectiveLayer(),
		})
	}
	for _, l := range s.Layers {
		out.Layers = append(out.Layers, FromLayer(l))
	}
	return out
}

// Snapshot converts the wire form back to a domain snapshot.
func (m *Snapshot) Snapshot() *domain.Snapshot {
	out := &domain.Snapshot{
		SessionID:   m.SessionID,
		Annotations: make([]*domain.Annotation, 0, len(m.Annotations)),
		Layers:      make([]*domain.Layer, 0, len(m.Layers)),
		Seq:         m.Seq,
		TakenAt:     m.TS,
	}
	for _, a := range m.Annotations {
		out.Annotations = append(out.Annotations, &domain.Annotation{
			ID: a.ID, Kind: a.Kind, Geometry: a.Geometry.Clone(), Color: a.Color,
			AuthorID: a.AuthorID, CreatedAt: a.CreatedAt, LayerID: a.LayerID,
		})
	}
	for _, l := range m.Layers {
		out.Layers = append(out.Layers, l.Layer())
	}
	return out
}

// FromLayer converts a layer to its wire form.
func FromLayer(l *domain.Layer) Layer {
	return Layer{ID: l.ID, Name: l.Name, Visible: l.Visible, Locked: l.Locked, CreatedAt: l.CreatedAt}
}

// Layer converts the wire form back to a domain layer.
func (l Layer) Layer() *domain.Layer {
	return &domain.Layer{ID: l.ID, Name: l.Name, Visible: l.Visible, Locked: l.Locked, CreatedAt: l.CreatedAt}
}

// LayerEventFrom builds a replication event carrying the state of l.
func LayerEventFrom(action string, l *domain.Layer, originID string, ts int64) *LayerEvent {
	ev := &LayerEvent{Action: action, LayerID: l.ID, OriginID: originID, TS: ts}
	if action != LayerDeleted {
		visible, locked := l.Visible, l.Locked
		ev.Name = l.Name
		ev.Visible = &visible
		ev.Locked = &locked
	}
	return ev
}

// ErrorFrom converts an error to an error message. Domain errors keep their
// code; anything else is reported as internal.
func ErrorFrom(err error) *Error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg := de.Message
		if de.Details != "" {
			msg += ": " + de.Details
		}
		return &Error{Code: de.Code, Message: msg}
	}
	return &Error{Code: domain.ErrInternal.Code, Message: domain.ErrInternal.Message}
}

// ============================================================================
// Encoders
// ============================================================================

// EncodeOp encodes a sequenced operation.
func EncodeOp(op *domain.Operation) ([]byte, error) {
	return Encode(TypeOp, FromOperation(op))
}

// EncodeSnapshot encodes a snapshot.
func EncodeSnapshot(s *domain.Snapshot) ([]byte, error) {
	return Encode(TypeSnapshot, FromSnapshot(s))
}

// EncodeError encodes err as an error message.
func EncodeError(err error) ([]byte, error) {
	return Encode(TypeError, ErrorFrom(err))
}
