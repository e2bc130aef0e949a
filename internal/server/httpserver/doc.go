// Package httpserver provides the HTTP server for AnnoMesh.
//
// Routing uses gorilla/mux:
//
//   - /ws: WebSocket upgrades handled by the gateway
//   - /v1/sessions...: read-mostly admin API over live sessions
//   - /health, /ready, /metrics: liveness, readiness and Prometheus metrics
//
// Features:
//
//   - Middleware chain: Recover, RequestID, CORS, RateLimit, Audit
//   - Request metrics labelled by route template
//   - Graceful shutdown through http.Server.Shutdown
package httpserver
