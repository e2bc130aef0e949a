// Package annotation provides the per-session annotation store.
//
// The store is a pure state machine: no clocks, no I/O and no locks. All
// access is serialized by the owning session coordinator.
package annotation
