// Package services defines shared utilities consumed by the stage processors,
// the flow coordinator, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, attempts, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so processors can classify
//     failures without the coordinator parsing messages.
//   - Retry eligibility: RetryableKind decides from the structured kind first
//     and falls back to a fixed denylist of permanent failure messages.
//
// Use these helpers when wiring new processors so failure handling stays
// uniform across the pipeline.
package services
