// Package storage archives the durable state of annotation sessions.
//
// Live sessions are held in memory by their coordinators. The archive lets a
// session outlive idle eviction and process restarts, and seeds a
// coordinator that opens a session another node has already worked on.
//
// Components:
//
//   - Archive: the persistence port
//   - Recorder: asynchronous writer pool fed by coordinator observers
//   - BadgerArchive: embedded Badger v3 store with optional encryption
//   - memory.Archive: in-process archive for tests and single-node setups
//   - pgarchive.Archive: PostgreSQL archive for shared deployments
//
// Archive writes are best effort. A dropped write never affects the live
// session; a stale archive only means a fresh coordinator starts from an
// older state, which later operations overwrite.
package storage
