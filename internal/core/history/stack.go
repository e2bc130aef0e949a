package history

import "github.com/yndnr/annomesh-go/internal/core/domain"

// DefaultCapacity is the number of entries kept before the oldest is dropped.
const DefaultCapacity = 500

// Stack is a linear undo/redo ledger with a pointer.
// Entries before the pointer are undoable; entries at or after it are redoable.
//
// Stack is not safe for concurrent use.
type Stack struct {
	entries  []domain.HistoryEntry
	pointer  int
	capacity int
}

// Option configures a Stack.
type Option func(*Stack)

// WithCapacity sets the maximum number of entries kept.
func WithCapacity(n int) Option {
	return func(s *Stack) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewStack creates an empty stack.
func NewStack(opts ...Option) *Stack {
	s := &Stack{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends entry at the pointer, discarding the redo branch.
func (s *Stack) Record(entry domain.HistoryEntry) {
	s.entries = append(s.entries[:s.pointer], entry)
	if len(s.entries) > s.capacity {
		drop := len(s.entries) - s.capacity
		s.entries = append(s.entries[:0], s.entries[drop:]...)
	}
	s.pointer = len(s.entries)
}

// Undo moves the pointer back one entry and returns the draft that reverses it.
func (s *Stack) Undo() (domain.OperationDraft, bool) {
	if s.pointer == 0 {
		return domain.OperationDraft{}, false
	}
	s.pointer--
	return Reverse(s.entries[s.pointer]), true
}

// Redo moves the pointer forward one entry and returns the original
// operation as a draft.
func (s *Stack) Redo() (domain.OperationDraft, bool) {
	if s.pointer >= len(s.entries) {
		return domain.OperationDraft{}, false
	}
	entry := s.entries[s.pointer]
	s.pointer++
	return entry.Op.Draft(), true
}

// CanUndo reports whether Undo would return a draft.
func (s *Stack) CanUndo() bool { return s.pointer > 0 }

// CanRedo reports whether Redo would return a draft.
func (s *Stack) CanRedo() bool { return s.pointer < len(s.entries) }

// Len returns the number of recorded entries.
func (s *Stack) Len() int { return len(s.entries) }

// Pointer returns the current undo pointer.
func (s *Stack) Pointer() int { return s.pointer }

// Reset clears the stack.
func (s *Stack) Reset() {
	s.entries = nil
	s.pointer = 0
}

// Reverse builds the draft that undoes entry.
//
//	create -> delete
//	delete -> create from the pre-state
//	update -> update restoring the touched fields from the pre-state
func Reverse(entry domain.HistoryEntry) domain.OperationDraft {
	op := entry.Op
	switch op.Type {
	case domain.OpCreate:
		return domain.DeleteDraft(op.AnnotationID)
	case domain.OpDelete:
		if entry.Before == nil {
			return domain.OperationDraft{}
		}
		return domain.CreateDraft(entry.Before)
	case domain.OpUpdate:
		if entry.Before == nil {
			return domain.OperationDraft{}
		}
		return domain.UpdateDraft(op.AnnotationID, domain.PatchFrom(entry.Before, op.Patch.Fields()))
	}
	return domain.OperationDraft{}
}
