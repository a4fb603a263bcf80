package workflow

import "errors"

var (
	// ErrCapacityExceeded is returned when the active flow limit is reached.
	ErrCapacityExceeded = errors.New("capacity exceeded: too many active flows")
	// ErrNotRetryable is returned when a manual retry targets a task that is
	// not failed or has no job history to resume from.
	ErrNotRetryable = errors.New("task cannot be retried")

	errTaskRemoved = errors.New("task removed")
	errLeaseLost   = errors.New("job lease lost")
)

var (
	errNoChange   = errors.New("manifest unchanged")
	errStaleEvent = errors.New("stale stage event")
)
