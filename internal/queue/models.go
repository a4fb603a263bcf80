package queue

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle of a single stage job row.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Open reports whether the job can still run.
func (s JobStatus) Open() bool {
	return s == JobQueued || s == JobRunning
}

// Priority orders queued jobs; higher values are claimed first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority accepts low, normal, high, or an empty string (normal).
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q (want low, normal, or high)", value)
	}
}

// Job is one attempt of one stage for one task.
type Job struct {
	ID            int64
	TaskID        string
	Stage         string
	Attempt       int
	MaxAttempts   int
	Priority      Priority
	InputJSON     string
	ResultJSON    string
	Status        JobStatus
	LeaseID       string
	ErrorMessage  string
	AvailableAt   time.Time
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Exhausted reports whether this attempt is the last one allowed.
func (j *Job) Exhausted() bool {
	return j.MaxAttempts > 0 && j.Attempt >= j.MaxAttempts
}

// EnqueueRequest describes a job to insert.
type EnqueueRequest struct {
	TaskID      string
	Stage       string
	Attempt     int
	MaxAttempts int
	Priority    Priority
	InputJSON   string
}

// HealthSummary aggregates job counts for status output.
type HealthSummary struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// DatabaseHealth describes diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string `json:"dbPath"`
	DatabaseExists   bool   `json:"databaseExists"`
	DatabaseReadable bool   `json:"databaseReadable"`
	SchemaVersion    int    `json:"schemaVersion"`
	TableExists      bool   `json:"tableExists"`
	IntegrityCheck   bool   `json:"integrityCheck"`
	TotalJobs        int    `json:"totalJobs"`
	Error            string `json:"error,omitempty"`
}
