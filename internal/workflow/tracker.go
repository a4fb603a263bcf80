package workflow

import (
	"slices"
	"sync"
	"time"

	"vidflow/internal/manifest"
	"vidflow/internal/pipeline"
)

// FlowProgress is the live view of one flow. It is never persisted.
type FlowProgress struct {
	TaskID          string          `json:"taskId"`
	Status          pipeline.Status `json:"status"`
	CurrentStage    string          `json:"currentStage,omitempty"`
	OverallProgress int             `json:"overallProgress"`
	StageProgress   int             `json:"stageProgress"`
	Step            string          `json:"step,omitempty"`
	Attempt         int             `json:"attempt,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// Terminal reports whether the flow has finished.
func (p FlowProgress) Terminal() bool {
	return p.Status.Terminal()
}

func (p *FlowProgress) clone() FlowProgress {
	out := *p
	if p.FinishedAt != nil {
		finished := *p.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Tracker is the in-memory map of task id to FlowProgress. Entries are
// created at admission, patched on every stage event, and removed a grace
// period after the flow finishes.
type Tracker struct {
	now func() time.Time

	mu     sync.Mutex
	flows  map[string]*FlowProgress
	timers map[string]*time.Timer
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:    time.Now,
		flows:  make(map[string]*FlowProgress),
		timers: make(map[string]*time.Timer),
	}
}

// Reserve registers a pending entry for taskID when fewer than limit flows
// are active. Check and registration happen under one lock so concurrent
// callers cannot both take the last slot. A finished entry for the same task
// is replaced.
func (t *Tracker) Reserve(taskID string, limit int) error {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.flows[taskID]; ok && !existing.Terminal() {
		return nil
	}
	if limit > 0 && t.activeLocked() >= limit {
		return ErrCapacityExceeded
	}
	t.stopTimerLocked(taskID)
	progress := 0
	if existing, ok := t.flows[taskID]; ok {
		progress = existing.OverallProgress
	}
	t.flows[taskID] = &FlowProgress{
		TaskID:          taskID,
		Status:          pipeline.StatusPending,
		OverallProgress: progress,
		Step:            "Queued",
		StartedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

// Release drops a reservation that never turned into a flow.
func (t *Tracker) Release(taskID string) {
	t.Remove(taskID)
}

// Get returns a copy of the entry for taskID.
func (t *Tracker) Get(taskID string) (FlowProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.flows[taskID]
	if !ok {
		return FlowProgress{}, false
	}
	return entry.clone(), true
}

// Upsert applies patch to the entry for taskID, creating it when missing,
// and returns the result. Admission paths use it after Reserve. Overall
// progress never decreases unless the flow is reset by a new reservation.
func (t *Tracker) Upsert(taskID string, patch func(*FlowProgress)) FlowProgress {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.flows[taskID]
	if !ok {
		entry = &FlowProgress{TaskID: taskID, Status: pipeline.StatusPending, StartedAt: now}
		t.flows[taskID] = entry
	}
	applyPatch(entry, patch, now)
	entry.TaskID = taskID
	return entry.clone()
}

// Patch applies patch to an existing, non-terminal entry. It reports false
// when the task is not tracked or has already finished, so a late stage
// event never brings back a removed or settled flow.
func (t *Tracker) Patch(taskID string, patch func(*FlowProgress)) (FlowProgress, bool) {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.flows[taskID]
	if !ok || entry.Terminal() {
		return FlowProgress{}, false
	}
	applyPatch(entry, patch, now)
	return entry.clone(), true
}

func applyPatch(entry *FlowProgress, patch func(*FlowProgress), now time.Time) {
	previous := entry.OverallProgress
	if patch != nil {
		patch(entry)
	}
	entry.OverallProgress = min(max(entry.OverallProgress, previous), 100)
	entry.StageProgress = min(max(entry.StageProgress, 0), 100)
	entry.UpdatedAt = now
	if entry.Terminal() && entry.FinishedAt == nil {
		entry.FinishedAt = &now
	}
}

// Remove deletes the entry for taskID and cancels any pending removal.
func (t *Tracker) Remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked(taskID)
	delete(t.flows, taskID)
}

// ScheduleRemoval removes the entry after grace, unless the flow became
// active again in the meantime.
func (t *Tracker) ScheduleRemoval(taskID string, grace time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked(taskID)
	if grace <= 0 {
		if entry, ok := t.flows[taskID]; ok && entry.Terminal() {
			delete(t.flows, taskID)
		}
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(grace, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.timers[taskID] != timer {
			return
		}
		delete(t.timers, taskID)
		if entry, ok := t.flows[taskID]; ok && entry.Terminal() {
			delete(t.flows, taskID)
		}
	})
	t.timers[taskID] = timer
}

// Count returns every tracked entry, finished flows in their grace window
// included.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// ActiveCount returns the number of non-terminal flows. Admission control
// compares it against the configured limit.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked()
}

// ListActive returns the non-terminal flows ordered by start time.
func (t *Tracker) ListActive() []FlowProgress {
	return t.list(true)
}

// List returns every tracked flow ordered by start time.
func (t *Tracker) List() []FlowProgress {
	return t.list(false)
}

// Recover rebuilds entries for the non-terminal manifests and returns the
// ids it registered. Existing entries are left untouched.
func (t *Tracker) Recover(manifests []*manifest.Manifest) []string {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	var recovered []string
	for _, m := range manifests {
		if m == nil || m.Terminal() {
			continue
		}
		if _, ok := t.flows[m.TaskID]; ok {
			continue
		}
		entry := &FlowProgress{
			TaskID:          m.TaskID,
			Status:          m.Status,
			OverallProgress: m.Progress,
			Step:            m.CurrentStep,
			StartedAt:       m.CreatedAt,
			UpdatedAt:       now,
		}
		if st, ok := pipeline.StageForStatus(m.Status); ok {
			entry.CurrentStage = st.String()
		}
		t.flows[m.TaskID] = entry
		recovered = append(recovered, m.TaskID)
	}
	return recovered
}

// Stop cancels every pending removal timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.timers {
		t.stopTimerLocked(id)
	}
}

func (t *Tracker) list(activeOnly bool) []FlowProgress {
	t.mu.Lock()
	out := make([]FlowProgress, 0, len(t.flows))
	for _, entry := range t.flows {
		if activeOnly && entry.Terminal() {
			continue
		}
		out = append(out, entry.clone())
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b FlowProgress) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.TaskID < b.TaskID {
			return -1
		}
		if a.TaskID > b.TaskID {
			return 1
		}
		return 0
	})
	return out
}

func (t *Tracker) activeLocked() int {
	count := 0
	for _, entry := range t.flows {
		if !entry.Terminal() {
			count++
		}
	}
	return count
}

func (t *Tracker) stopTimerLocked(taskID string) {
	if timer, ok := t.timers[taskID]; ok {
		timer.Stop()
		delete(t.timers, taskID)
	}
}
