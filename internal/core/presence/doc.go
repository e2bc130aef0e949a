// Package presence tracks the last known pointer position of each
// participant in a session.
//
// Presence is ephemeral and lossy: records are never historied, the newest
// update for a user replaces the older one, and records older than the
// liveness threshold are hidden from snapshots until they are refreshed.
package presence
