package wire

import "github.com/yndnr/annomesh-go/internal/core/domain"

// Geometry is the wire form of a geometry. All fields are optional so that
// the same shape carries full geometry on create and a partial diff on update.
type Geometry struct {
	X      *float64       `json:"x,omitempty"`
	Y      *float64       `json:"y,omitempty"`
	Width  *float64       `json:"width,omitempty"`
	Height *float64       `json:"height,omitempty"`
	Radius *float64       `json:"radius,omitempty"`
	End    *domain.Point  `json:"end,omitempty"`
	Points []domain.Point `json:"points,omitempty"`
	Text   *string        `json:"text,omitempty"`
}

// Op is a sequenced operation.
type Op struct {
	Type         domain.OpType `json:"type"`
	AnnotationID string        `json:"annotationId"`
	Kind         *domain.Kind  `json:"kind,omitempty"`
	Geometry     *Geometry     `json:"geometry,omitempty"`
	Color        *string       `json:"color,omitempty"`
	LayerID      *string       `json:"layerId,omitempty"`
	AuthorID     string        `json:"authorId,omitempty"`
	CreatedAt    int64         `json:"createdAt,omitempty"`
	SessionSeq   uint64        `json:"sessionSeq"`
	OriginID     string        `json:"originId"`
	TS           int64         `json:"ts"`
}

// Submit is a draft sent by a thin client that does not sequence locally.
type Submit struct {
	Type         domain.OpType `json:"type"`
	AnnotationID string        `json:"annotationId"`
	Kind         *domain.Kind  `json:"kind,omitempty"`
	Geometry     *Geometry     `json:"geometry,omitempty"`
	Color        *string       `json:"color,omitempty"`
	LayerID      *string       `json:"layerId,omitempty"`
}

// Presence is a pointer position update.
type Presence struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	TS     int64   `json:"ts"`
}

// Annotation is the wire form of a full annotation inside a snapshot.
type Annotation struct {
	ID        string          `json:"id"`
	Kind      domain.Kind     `json:"kind"`
	Geometry  domain.Geometry `json:"geometry"`
	Color     string          `json:"color,omitempty"`
	AuthorID  string          `json:"authorId,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	LayerID   string          `json:"layerId"`
}

// Layer is the wire form of a layer definition.
type Layer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Visible   bool   `json:"visible"`
	Locked    bool   `json:"locked"`
	CreatedAt int64  `json:"createdAt"`
}

// Snapshot is the full state of a session.
type Snapshot struct {
	SessionID   string       `json:"sessionId"`
	Annotations []Annotation `json:"annotations"`
	Layers      []Layer      `json:"layers"`
	Seq         uint64       `json:"seq"`
	TS          int64        `json:"ts"`
}

// Layer event actions.
const (
	LayerCreated = "create"
	LayerUpdated = "update"
	LayerDeleted = "delete"
)

// LayerEvent replicates the resulting state of a layer change. Applying the
// same event twice has no further effect.
type LayerEvent struct {
	Action   string `json:"action"`
	LayerID  string `json:"layerId"`
	Name     string `json:"name,omitempty"`
	Visible  *bool  `json:"visible,omitempty"`
	Locked   *bool  `json:"locked,omitempty"`
	OriginID string `json:"originId"`
	TS       int64  `json:"ts"`
}

// Layer command actions.
const (
	CmdCreate           = "create"
	CmdSetLocked        = "set_locked"
	CmdToggleVisibility = "toggle_visibility"
	CmdDelete           = "delete"
	CmdMove             = "move"
)

// LayerCommand is a layer request from a thin client.
type LayerCommand struct {
	Action       string `json:"action"`
	LayerID      string `json:"layerId,omitempty"`
	Name         string `json:"name,omitempty"`
	Locked       *bool  `json:"locked,omitempty"`
	AnnotationID string `json:"annotationId,omitempty"`
}

// Error is addressed to a single participant.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
