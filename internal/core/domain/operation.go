package domain

// OpType is the kind of mutation an operation performs.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid returns true if t is a known operation type.
func (t OpType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// Stamp is the last-writer-wins key of an operation.
// Stamps compare by Timestamp first and OriginID second.
type Stamp struct {
	Timestamp int64  `json:"ts"`
	OriginID  string `json:"origin_id"`
}

// Less reports whether s orders strictly before o.
func (s Stamp) Less(o Stamp) bool {
	if s.Timestamp != o.Timestamp {
		return s.Timestamp < o.Timestamp
	}
	return s.OriginID < o.OriginID
}

// IsZero reports whether the stamp was never set.
func (s Stamp) IsZero() bool {
	return s.Timestamp == 0 && s.OriginID == ""
}

// OperationDraft is an operation before the coordinator has sequenced it.
type OperationDraft struct {
	Type         OpType      `json:"type"`
	AnnotationID string      `json:"annotation_id"`
	Annotation   *Annotation `json:"annotation,omitempty"`
	Patch        *Patch      `json:"patch,omitempty"`
}

// Operation is the immutable unit of synchronization.
type Operation struct {
	Type         OpType `json:"type"`
	AnnotationID string `json:"annotation_id"`

	// Annotation is the full record for a create.
	Annotation *Annotation `json:"annotation,omitempty"`

	// Patch is the partial diff for an update.
	Patch *Patch `json:"patch,omitempty"`

	// SessionSeq is assigned by the origin coordinator.
	SessionSeq uint64 `json:"session_seq"`

	// OriginID identifies the issuing participant.
	OriginID string `json:"origin_id"`

	// Timestamp is the origin coordinator's receipt time (Unix milliseconds).
	Timestamp int64 `json:"ts"`
}

// Stamp returns the LWW key of the operation.
func (op *Operation) Stamp() Stamp {
	return Stamp{Timestamp: op.Timestamp, OriginID: op.OriginID}
}

// Before reports whether op orders before o under (SessionSeq, OriginID).
func (op *Operation) Before(o *Operation) bool {
	if op.SessionSeq != o.SessionSeq {
		return op.SessionSeq < o.SessionSeq
	}
	return op.OriginID < o.OriginID
}

// Draft strips the sequencing fields from op.
func (op *Operation) Draft() OperationDraft {
	d := OperationDraft{Type: op.Type, AnnotationID: op.AnnotationID}
	if op.Annotation != nil {
		d.Annotation = op.Annotation.Clone()
	}
	if op.Patch != nil {
		d.Patch = op.Patch.Clone()
	}
	return d
}

// Validate checks the structural contract of the draft.
// Per-kind geometry is checked for creates; for updates only the values
// that can be judged without the target annotation.
func (d *OperationDraft) Validate() error {
	if !d.Type.Valid() {
		return ErrValidation.WithDetails("unknown operation type " + string(d.Type))
	}
	switch d.Type {
	case OpCreate:
		if d.Annotation == nil {
			return ErrValidation.WithDetails("create requires annotation payload")
		}
		if d.AnnotationID != "" && d.AnnotationID != d.Annotation.ID {
			return ErrValidation.WithDetails("annotation id mismatch")
		}
		return d.Annotation.Validate()
	case OpUpdate:
		if d.AnnotationID == "" {
			return ErrValidation.WithDetails("annotation id is required")
		}
		if d.Patch == nil {
			return ErrValidation.WithDetails("update requires patch payload")
		}
		return d.Patch.Validate()
	default:
		if d.AnnotationID == "" {
			return ErrValidation.WithDetails("annotation id is required")
		}
	}
	return nil
}

// TargetID returns the annotation the draft acts on.
func (d *OperationDraft) TargetID() string {
	if d.AnnotationID == "" && d.Annotation != nil {
		return d.Annotation.ID
	}
	return d.AnnotationID
}

// CreateDraft builds a create draft for a.
func CreateDraft(a *Annotation) OperationDraft {
	return OperationDraft{Type: OpCreate, AnnotationID: a.ID, Annotation: a.Clone()}
}

// UpdateDraft builds an update draft.
func UpdateDraft(id string, p *Patch) OperationDraft {
	return OperationDraft{Type: OpUpdate, AnnotationID: id, Patch: p}
}

// DeleteDraft builds a delete draft.
func DeleteDraft(id string) OperationDraft {
	return OperationDraft{Type: OpDelete, AnnotationID: id}
}

// Effect describes what applying an operation did to the store.
type Effect struct {
	// Before is the pre-state for update and delete.
	Before *Annotation

	// After is the post-state for create and update, and the removed
	// annotation for delete.
	After *Annotation

	// Noop is set when a delete hit an already tombstoned id.
	Noop bool

	// Superseded is set when every field of an update lost to a newer write.
	Superseded bool
}

// Changed reports whether the store state changed.
func (e Effect) Changed() bool {
	return !e.Noop && !e.Superseded
}

// HistoryEntry is an applied local operation plus the pre-state needed to
// reverse it.
type HistoryEntry struct {
	Op     Operation
	Before *Annotation
}
