// Package api serves the vidflow HTTP API and defines its wire types.
//
// # Key Types
//
// Flow: transport representation of a task manifest merged with its live
// tracker entry.
//
// Event: a coordinator notification as delivered on the SSE stream.
//
// DaemonStatus / WorkflowStatus: runtime information for `vidflow status`.
//
// Server: fiber application with bearer-token authentication. Routes live
// under /api; /health is unauthenticated.
//
// # Event Stream
//
// GET /api/flows/:id/events streams events in text/event-stream format. Each
// event carries its hub sequence as the SSE id so a reconnecting client can
// resume with Last-Event-ID. The stream ends after a terminal event. While
// idle the server writes comment lines at the configured keepalive interval.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are returned as {"error": "...", "kind": "..."} with status codes
// derived from the error class: capacity 429, validation 422, not found 404,
// not retryable 409, daemon stopped 503.
package api
