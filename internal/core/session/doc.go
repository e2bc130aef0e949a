// Package session owns the lifecycle of collaborative sessions.
//
// A Coordinator is the single concurrency boundary of one session. It owns
// the annotation store, the per-participant history stacks, the layer
// manager and the presence tracker, none of which are safe for concurrent
// use on their own. Operations, joins, leaves and layer commands are
// processed one at a time by the coordinator's queue goroutine, in arrival
// order. Presence bypasses the queue under a separate mutex so pointer
// updates never wait behind a backlog of edits.
//
// A Manager keeps one Coordinator per open session, seeds new sessions from
// the archive, and evicts sessions that stay empty past the idle timeout.
package session
