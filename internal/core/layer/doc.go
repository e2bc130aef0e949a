// Package layer manages the named visibility groups of a session.
//
// Layer membership is derived: an annotation belongs to the layer named by
// its LayerID. The manager never stores member lists; it asks the annotation
// store when membership is needed.
//
// Layer attributes are replicated with per-field last-writer-wins stamps, the
// same rule the annotation store uses. A deleted layer leaves a tombstone so
// that older writes arriving late cannot bring it back, while an annotation
// that lands in a deleted layer revives it.
package layer
