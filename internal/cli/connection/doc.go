// Package connection is the HTTP client annomesh-cli uses to reach the
// admin API of annomesh-server.
//
// Responses arrive in the server's envelope ({code, message, data}); the
// client unwraps data on success and turns error envelopes into *APIError.
package connection
