// Package main provides the entry point for annomesh-server.
//
// The server hosts collaborative annotation sessions:
//
//   - WebSocket endpoint (/ws) where participants join a session
//   - HTTP admin API (/v1) for inspecting and closing sessions
//   - Optional archive (memory, badger or PostgreSQL) that sessions are
//     restored from when reopened
//   - Optional relay (NATS or Redis) so participants of one session may
//     connect to different server nodes
//
// Usage:
//
//	annomesh-server [flags]
//	annomesh-server -config /etc/annomesh/server.yaml
//
// Configuration is read from the file, then ANNOMESH_* environment
// variables (nested keys joined with "__"), then command line flags.
package main
