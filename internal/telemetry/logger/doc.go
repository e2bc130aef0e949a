// Package logger provides structured logging for AnnoMesh.
//
// The package wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, package-level helpers
//   - context.go: context propagation of loggers, request ids and session ids
//   - redact.go: masking of key material and credentials
//
// Components receive a *slog.Logger; Slog converts a Logger built here into
// one that keeps the redacting handler.
package logger
