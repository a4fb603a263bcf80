package pipeline

import (
	"fmt"
	"strings"
)

// Status is the manifest lifecycle value of a task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusExtracting   Status = "extracting"
	StatusSeparating   Status = "separating"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusDownloading:  1,
	StatusExtracting:   2,
	StatusSeparating:   3,
	StatusTranscribing: 4,
	StatusSummarizing:  5,
	StatusCompleted:    6,
}

// AllStatuses lists every status in lifecycle order, failed last.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusDownloading,
		StatusExtracting,
		StatusSeparating,
		StatusTranscribing,
		StatusSummarizing,
		StatusCompleted,
		StatusFailed,
	}
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if status == StatusFailed {
		return status, nil
	}
	if _, ok := statusRank[status]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Terminal reports whether the status ends a flow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether a manifest may move from one status to another.
//
// Non-terminal statuses only move forward. Any non-terminal status may fail.
// A retry resets a non-terminal status back to pending, and an explicit
// manual retry resets failed to pending.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return !from.Terminal()
	}
	switch {
	case from == StatusCompleted:
		return false
	case from == StatusFailed:
		return to == StatusPending
	case to == StatusFailed:
		return true
	case to == StatusPending:
		return true
	}
	return statusRank[to] > statusRank[from]
}

// After reports whether a is strictly later in the lifecycle than b. Failed is
// not ordered against the other statuses.
func After(a, b Status) bool {
	ra, okA := statusRank[a]
	rb, okB := statusRank[b]
	if !okA || !okB {
		return false
	}
	return ra > rb
}
