// Package apiclient is the CLI-side client for the daemon's HTTP API.
//
// Request/response calls decode the daemon's JSON bodies into the
// internal/api transport types and turn non-2xx responses into *APIError.
// Watch follows a flow's server-sent event stream, resuming with
// Last-Event-ID when the connection drops.
package apiclient
