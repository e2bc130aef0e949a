// Package tracer provides OpenTelemetry tracing for annomesh.
//
// A Provider is built from configuration and handed to the components that
// create spans: the HTTP router (through otelhttp) and session coordinators.
// A disabled Provider hands out no-op spans, so callers never check whether
// tracing is on.
//
// Span names:
//
//	session.open     Manager.Open, including the archive seed
//	session.submit   a locally submitted operation
//	session.receive  an operation received from another replica
//	session.join     a participant join and its snapshot
package tracer
