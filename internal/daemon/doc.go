// Package daemon coordinates the long-running vidflow process.
//
// It wires configuration, the job queue, the flow orchestrator, and the stage
// runner into a single lifecycle with flock-based locking to prevent multiple
// instances. Start runs restart recovery before any job is claimed. The
// daemon is the backend of the HTTP API: flow operations are delegated to the
// producer and orchestrator.
//
// Keep orchestration logic here: flow semantics live in workflow while the
// daemon focuses on startup, shutdown, and status.
package daemon
