// Package queue persists stage jobs in SQLite and exposes the lease-based
// claim/acknowledge cycle the workflow runner drives.
//
// Each row is one attempt of one stage for one task. Workers claim the oldest
// available job (highest priority first), heartbeat while running, and
// acknowledge with a compare-and-set on the lease so a duplicate or stale
// delivery is detected instead of applied twice. Retry attempts are enqueued
// with an exponential backoff applied to available_at.
//
// The database is treated as transient storage for in-flight work rather than
// a long-term archive; task manifests are the durable record. Schema changes
// bump schemaVersion in schema.go; users clear the database to adopt them.
package queue
