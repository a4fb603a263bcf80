package queue

import "errors"

var (
	// ErrStaleJob indicates the job was already acknowledged, cancelled, or
	// reclaimed under a different lease.
	ErrStaleJob = errors.New("stale stage job")
	// ErrJobNotFound indicates no job row matches the request.
	ErrJobNotFound = errors.New("stage job not found")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
