package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no manifest exists for the task.
	ErrNotFound = errors.New("manifest not found")
	// ErrExists is returned by Create when the task already has a manifest.
	ErrExists = errors.New("manifest already exists")
	// ErrIO marks storage failures (unreadable, unwritable, corrupt files).
	ErrIO = errors.New("manifest store unavailable")
)

// IOError describes a storage failure for one task.
type IOError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrIO) match every IOError.
func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioError(op, taskID string, err error) error {
	return &IOError{Op: op, TaskID: taskID, Err: err}
}
