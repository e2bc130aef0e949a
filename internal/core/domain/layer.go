package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Layer constraints.
const (
	MaxLayerNameLength = 128

	// LayerIDPrefix is the prefix of generated layer IDs.
	LayerIDPrefix = "lyr-"
)

// Layer is a named visibility group. Membership is derived from
// Annotation.LayerID and never stored here.
type Layer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`

	// Locked layers accept no new annotations.
	Locked bool `json:"locked"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`
}

// NewLayerID generates a new layer ID.
// Format: lyr-{ulid_lowercase}.
func NewLayerID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return LayerIDPrefix + strings.ToLower(id.String()), nil
}

// DefaultLayer returns the implicit layer every session starts with.
func DefaultLayer() *Layer {
	return &Layer{ID: DefaultLayerID, Name: "Default", Visible: true}
}

// Clone returns a copy of the layer.
func (l *Layer) Clone() *Layer {
	c := *l
	return &c
}

// Validate checks layer fields.
func (l *Layer) Validate() error {
	if l.ID == "" {
		return ErrValidation.WithDetails("layer id is required")
	}
	if len(l.Name) > MaxLayerNameLength {
		return ErrValidation.WithDetails("layer name too long")
	}
	return nil
}
