// Package main provides the entry point for annomesh-cli.
//
// The CLI talks to an annomesh-server for:
//
//   - Session inspection (list, show, snapshot, annotations, presence)
//   - Closing sessions
//   - Watching a session live as a read-only participant
//   - Server health and readiness
//   - Local settings (~/.annomesh/cli.yaml)
//
// Usage:
//
//	annomesh-cli [global flags] command [flags]
//	annomesh-cli session list -o json
//	annomesh-cli -s http://annomesh:7480 watch design-review
package main
