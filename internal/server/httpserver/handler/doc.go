// Package handler provides HTTP request handlers for AnnoMesh.
//
// This package contains the read-mostly admin surface over live sessions:
//
//   - session.go: list, inspect, snapshot and close sessions
//   - health.go: health and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate path and query parameters
//   - Call the session manager or coordinator
//   - Wrap the result in the standard response envelope
//   - Map domain errors to HTTP status codes
package handler
