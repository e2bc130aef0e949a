package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// Archive persists the durable state of sessions: live annotations, layers
// and the highest sequence number. Tombstones and presence are not archived.
//
// Implementations must be safe for concurrent use.
type Archive interface {
	// SaveAnnotation upserts a live annotation and raises the session seq.
	SaveAnnotation(ctx context.Context, sessionID string, a *domain.Annotation, seq uint64) error

	// DeleteAnnotation removes an annotation. Deleting a missing id is not
	// an error.
	DeleteAnnotation(ctx context.Context, sessionID, annotationID string, seq uint64) error

	// SaveLayer upserts a layer definition.
	SaveLayer(ctx context.Context, sessionID string, l *domain.Layer) error

	// DeleteLayer removes a layer definition.
	DeleteLayer(ctx context.Context, sessionID, layerID string) error

	// ReplaceSession overwrites everything stored for snap.SessionID.
	ReplaceSession(ctx context.Context, snap *domain.Snapshot) error

	// Load returns the archived state of a session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*domain.Snapshot, error)

	Close() error
}

// Errors returned by archives.
var (
	ErrNotFound = errors.New("storage: session not archived")
	ErrClosed   = errors.New("storage: archive closed")
)

// SortSnapshot puts annotations in creation order and layers in creation
// order with the default layer first. Archives that do not keep insertion
// order call it before returning from Load.
func SortSnapshot(snap *domain.Snapshot) {
	sort.SliceStable(snap.Annotations, func(i, j int) bool {
		a, b := snap.Annotations[i], snap.Annotations[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	sort.SliceStable(snap.Layers, func(i, j int) bool {
		a, b := snap.Layers[i], snap.Layers[j]
		if (a.ID == domain.DefaultLayerID) != (b.ID == domain.DefaultLayerID) {
			return a.ID == domain.DefaultLayerID
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}
