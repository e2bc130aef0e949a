// Package tlsroots builds the TLS configurations used by annomesh.
//
// The server side uses a Reloader so a renewed certificate is picked up
// without dropping connected participants, and optionally a Pool of client
// CAs for mutual TLS. The CLI and the WebSocket client use a Pool to trust
// a private CA in addition to the system roots.
package tlsroots
