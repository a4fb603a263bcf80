// Package manifest persists the durable per-task record: status, overall
// progress, produced artifacts, and the last failure message.
//
// Each task owns a directory under <data_dir>/tasks/<task id>/ holding
// manifest.json. Writes are atomic (temp file plus rename) and guarded by a
// per-task flock so concurrent processes never interleave a read-modify-write.
// In-process callers are expected to serialize their own updates per task;
// the workflow orchestrator does this with a keyed mutex.
package manifest
