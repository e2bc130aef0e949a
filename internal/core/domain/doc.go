// Package domain defines the core domain models for AnnoMesh.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Annotation: a marker placed over the shared artifact
//   - Operation: the create/update/delete unit of synchronization
//   - Layer: a named, lockable visibility group
//   - PresenceRecord: ephemeral pointer position per participant
//   - Snapshot: the full state sent to a joining participant
//   - SessionState: the coordinator lifecycle states
//   - Errors: domain error codes
package domain
