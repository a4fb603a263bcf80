package manifest

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"vidflow/internal/pipeline"
)

// Manifest is the persisted state of one task.
type Manifest struct {
	TaskID      string            `json:"taskId"`
	Status      pipeline.Status   `json:"status"`
	Progress    int               `json:"progress"`
	CurrentStep string            `json:"currentStep"`
	Files       map[string]string `json:"files"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
}

// New returns a pending manifest for taskID.
func New(taskID string, now time.Time) *Manifest {
	return &Manifest{
		TaskID:      taskID,
		Status:      pipeline.StatusPending,
		CurrentStep: "Queued",
		Files:       map[string]string{},
		CreatedAt:   now.UTC(),
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Files = maps.Clone(m.Files)
	if out.Files == nil {
		out.Files = map[string]string{}
	}
	if m.FinishedAt != nil {
		finished := *m.FinishedAt
		out.FinishedAt = &finished
	}
	return &out
}

// MergeFiles adds artifacts without removing or overwriting existing keys
// with empty paths.
func (m *Manifest) MergeFiles(files map[string]string) {
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	for name, path := range files {
		name = strings.TrimSpace(name)
		if name == "" || strings.TrimSpace(path) == "" {
			continue
		}
		m.Files[name] = path
	}
}

// SetProgress raises progress to value, clamped to 0..100. Lower values are
// ignored so progress never moves backwards.
func (m *Manifest) SetProgress(value int) {
	if value > 100 {
		value = 100
	}
	if value > m.Progress {
		m.Progress = value
	}
}

// Terminal reports whether the task has finished.
func (m *Manifest) Terminal() bool {
	return m.Status.Terminal()
}

// Finish moves the manifest into a terminal status and stamps finishedAt.
func (m *Manifest) Finish(status pipeline.Status, errMsg string, now time.Time) {
	finished := now.UTC()
	m.Status = status
	m.FinishedAt = &finished
	switch status {
	case pipeline.StatusCompleted:
		m.Progress = 100
		m.Error = ""
		m.CurrentStep = "Completed"
	case pipeline.StatusFailed:
		if strings.TrimSpace(errMsg) == "" {
			errMsg = "stage failed without an error message"
		}
		m.Error = errMsg
		m.CurrentStep = "Failed"
	}
}

// ResetForRetry clears failure state and returns the manifest to pending.
func (m *Manifest) ResetForRetry(step string) {
	m.Status = pipeline.StatusPending
	m.Error = ""
	m.FinishedAt = nil
	m.CurrentStep = step
}

// Validate checks the structural invariants of a manifest.
func (m *Manifest) Validate() error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	if err := ValidateTaskID(m.TaskID); err != nil {
		return err
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if m.Progress < 0 || m.Progress > 100 {
		return fmt.Errorf("progress %d out of range", m.Progress)
	}
	if m.Status.Terminal() != (m.FinishedAt != nil) {
		return fmt.Errorf("finishedAt must be set only for terminal status (status %s)", m.Status)
	}
	if m.Status == pipeline.StatusFailed && strings.TrimSpace(m.Error) == "" {
		return errors.New("failed manifest requires an error message")
	}
	return nil
}

// ValidateTaskID rejects identifiers that are unsafe as directory names.
func ValidateTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("task id is empty")
	}
	if len(id) > 128 {
		return errors.New("task id is too long")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("task id %q contains invalid character %q", id, r)
		}
	}
	return nil
}
