// Package history provides per-participant linear undo/redo.
//
// A Stack only ever holds operations its participant originated. Remote
// operations update the shared store but never enter another participant's
// stack, so undo cannot reverse someone else's work.
package history
