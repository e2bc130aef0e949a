package annotation

import (
	"slices"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// entry is one annotation id, live or tombstoned.
type entry struct {
	ann *domain.Annotation

	// created is the stamp of the create that started the current incarnation.
	created domain.Stamp

	// fields holds the stamp of the last write to each mutable field.
	fields map[domain.Field]domain.Stamp

	// deleted marks a tombstone; deletedAt is the highest delete stamp seen.
	deleted   bool
	deletedAt domain.Stamp
}

// Store holds the annotations of one session.
type Store struct {
	entries map[string]*entry

	// order lists ids by first creation, tombstones included.
	order []string
	live  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Apply applies op and reports its effect.
//
// create fails with ErrDuplicateID if the id is live; a tombstoned id may be
// re-created unless a newer delete already buried it.
// update fails with ErrAnnotationNotFound if the id is unknown or deleted and
// only writes fields whose stored stamp is older than op's stamp.
// delete fails with ErrAnnotationNotFound if the id was never seen; deleting
// a tombstone is a no-op success.
func (s *Store) Apply(op *domain.Operation) (domain.Effect, error) {
	switch op.Type {
	case domain.OpCreate:
		return s.applyCreate(op)
	case domain.OpUpdate:
		return s.applyUpdate(op)
	case domain.OpDelete:
		return s.applyDelete(op)
	default:
		return domain.Effect{}, domain.ErrValidation.WithDetails("unknown operation type " + string(op.Type))
	}
}

func (s *Store) applyCreate(op *domain.Operation) (domain.Effect, error) {
	if op.Annotation == nil {
		return domain.Effect{}, domain.ErrValidation.WithDetails("create requires annotation payload")
	}
	if err := op.Annotation.Validate(); err != nil {
		return domain.Effect{}, err
	}

	ann := op.Annotation.Clone()
	if ann.LayerID == "" {
		ann.LayerID = domain.DefaultLayerID
	}
	stamp := op.Stamp()

	e, ok := s.entries[ann.ID]
	switch {
	case ok && !e.deleted:
		return domain.Effect{}, domain.ErrDuplicateID.WithDetails(ann.ID)
	case ok && stamp.Less(e.deletedAt):
		// A later delete already buried this incarnation.
		return domain.Effect{Superseded: true}, nil
	case !ok:
		e = &entry{}
		s.entries[ann.ID] = e
		s.order = append(s.order, ann.ID)
	}

	e.ann = ann
	e.created = stamp
	e.deleted = false
	e.fields = make(map[domain.Field]domain.Stamp, len(domain.AllFields))
	for _, f := range domain.AllFields {
		e.fields[f] = stamp
	}
	s.live++

	return domain.Effect{After: ann.Clone()}, nil
}

func (s *Store) applyUpdate(op *domain.Operation) (domain.Effect, error) {
	if op.Patch == nil {
		return domain.Effect{}, domain.ErrValidation.WithDetails("update requires patch payload")
	}
	e, ok := s.entries[op.AnnotationID]
	if !ok || e.deleted {
		return domain.Effect{}, domain.ErrAnnotationNotFound.WithDetails(op.AnnotationID)
	}
	if op.Patch.Kind != nil && *op.Patch.Kind != e.ann.Kind {
		return domain.Effect{}, domain.ErrKindImmutable.WithDetails(
			string(e.ann.Kind) + " cannot become " + string(*op.Patch.Kind))
	}

	stamp := op.Stamp()
	merged := e.ann.Clone()
	var won []domain.Field
	for _, f := range op.Patch.Fields() {
		if e.fields[f].Less(stamp) {
			op.Patch.ApplyField(merged, f)
			won = append(won, f)
		}
	}
	if len(won) == 0 {
		return domain.Effect{Superseded: true}, nil
	}
	if merged.LayerID == "" {
		merged.LayerID = domain.DefaultLayerID
	}
	if err := merged.Validate(); err != nil {
		return domain.Effect{}, err
	}

	before := e.ann
	e.ann = merged
	for _, f := range won {
		e.fields[f] = stamp
	}
	return domain.Effect{Before: before.Clone(), After: merged.Clone()}, nil
}

func (s *Store) applyDelete(op *domain.Operation) (domain.Effect, error) {
	e, ok := s.entries[op.AnnotationID]
	if !ok {
		return domain.Effect{}, domain.ErrAnnotationNotFound.WithDetails(op.AnnotationID)
	}
	stamp := op.Stamp()
	if e.deleted {
		if e.deletedAt.Less(stamp) {
			e.deletedAt = stamp
		}
		return domain.Effect{Noop: true}, nil
	}
	if stamp.Less(e.created) {
		// The delete targeted an earlier incarnation of the id.
		return domain.Effect{Superseded: true}, nil
	}

	removed := e.ann
	e.deleted = true
	e.deletedAt = stamp
	s.live--
	return domain.Effect{Before: removed.Clone(), After: removed.Clone()}, nil
}

// Get returns a copy of the live annotation with the given id.
func (s *Store) Get(id string) (*domain.Annotation, bool) {
	e, ok := s.entries[id]
	if !ok || e.deleted {
		return nil, false
	}
	return e.ann.Clone(), true
}

// Exists reports whether id is live.
func (s *Store) Exists(id string) bool {
	e, ok := s.entries[id]
	return ok && !e.deleted
}

// List returns live annotations in creation order. If layers are given, only
// annotations in one of them are returned.
func (s *Store) List(layers ...string) []*domain.Annotation {
	out := make([]*domain.Annotation, 0, s.live)
	for _, id := range s.order {
		e := s.entries[id]
		if e.deleted {
			continue
		}
		if len(layers) > 0 && !slices.Contains(layers, e.ann.EffectiveLayer()) {
			continue
		}
		out = append(out, e.ann.Clone())
	}
	return out
}

// IDsInLayer returns the ids of live annotations in layerID, in creation order.
func (s *Store) IDsInLayer(layerID string) []string {
	var ids []string
	for _, id := range s.order {
		e := s.entries[id]
		if !e.deleted && e.ann.EffectiveLayer() == layerID {
			ids = append(ids, id)
		}
	}
	return ids
}

// CountInLayer returns the number of live annotations in layerID.
func (s *Store) CountInLayer(layerID string) int {
	n := 0
	for _, e := range s.entries {
		if !e.deleted && e.ann.EffectiveLayer() == layerID {
			n++
		}
	}
	return n
}

// Len returns the number of live annotations.
func (s *Store) Len() int {
	return s.live
}

// Snapshot returns copies of all live annotations in creation order.
func (s *Store) Snapshot() []*domain.Annotation {
	return s.List()
}

// Load replaces the store contents with anns, kept in the given order.
// Tombstones and field stamps are reset, so any later write wins.
func (s *Store) Load(anns []*domain.Annotation) {
	s.entries = make(map[string]*entry, len(anns))
	s.order = make([]string, 0, len(anns))
	s.live = 0

	for _, a := range anns {
		if a == nil || a.ID == "" {
			continue
		}
		if _, dup := s.entries[a.ID]; dup {
			continue
		}
		ann := a.Clone()
		if ann.LayerID == "" {
			ann.LayerID = domain.DefaultLayerID
		}
		s.entries[ann.ID] = &entry{
			ann:    ann,
			fields: make(map[domain.Field]domain.Stamp, len(domain.AllFields)),
		}
		s.order = append(s.order, ann.ID)
		s.live++
	}
}
