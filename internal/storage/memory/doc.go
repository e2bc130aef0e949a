// Package memory provides an in-process session archive.
//
// Sessions are held in a sharded concurrent map; each session record has
// its own lock, so writes to different sessions never contend. The archive
// survives coordinator eviction but not a process restart.
package memory
