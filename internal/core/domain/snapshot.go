package domain

// Snapshot is the full state of a session sent to a joining participant.
// No history is transmitted.
type Snapshot struct {
	SessionID string `json:"session_id"`

	// Annotations are in creation order.
	Annotations []*Annotation `json:"annotations"`

	// Layers are in creation order, default layer first.
	Layers []*Layer `json:"layers"`

	// Seq is the coordinator's sequence counter when the snapshot was taken.
	Seq uint64 `json:"seq"`

	// TakenAt is the snapshot timestamp (Unix milliseconds).
	TakenAt int64 `json:"taken_at"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{SessionID: s.SessionID, Seq: s.Seq, TakenAt: s.TakenAt}
	out.Annotations = make([]*Annotation, len(s.Annotations))
	for i, a := range s.Annotations {
		out.Annotations[i] = a.Clone()
	}
	out.Layers = make([]*Layer, len(s.Layers))
	for i, l := range s.Layers {
		out.Layers[i] = l.Clone()
	}
	return out
}

// IsEmpty reports whether the snapshot carries no state.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (len(s.Annotations) == 0 && len(s.Layers) == 0)
}
