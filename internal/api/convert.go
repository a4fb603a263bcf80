package api

import (
	"encoding/json"
	"maps"
	"time"

	"vidflow/internal/daemon"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/workflow"
)

// FromFlowView converts a manifest and its optional live entry. Live values
// take precedence for the fields the tracker updates between manifest writes.
func FromFlowView(view workflow.FlowView) Flow {
	m := view.Manifest
	if m == nil {
		if view.Live != nil {
			return FromFlowProgress(*view.Live)
		}
		return Flow{}
	}
	dto := Flow{
		TaskID:      m.TaskID,
		Status:      string(m.Status),
		CurrentStep: m.CurrentStep,
		Progress:    m.Progress,
		Error:       m.Error,
		CreatedAt:   formatTime(m.CreatedAt),
	}
	if len(m.Files) > 0 {
		dto.Files = maps.Clone(m.Files)
	}
	if m.FinishedAt != nil {
		dto.FinishedAt = formatTime(*m.FinishedAt)
	}
	if m.Status == pipeline.StatusCompleted {
		dto.StageProgress = 100
	}
	if live := view.Live; live != nil {
		dto.Live = true
		dto.CurrentStage = live.CurrentStage
		dto.StageProgress = live.StageProgress
		dto.Attempt = live.Attempt
		dto.UpdatedAt = formatTime(live.UpdatedAt)
		if !m.Terminal() {
			dto.Status = string(live.Status)
			dto.Progress = max(dto.Progress, live.OverallProgress)
			if live.Step != "" {
				dto.CurrentStep = live.Step
			}
		}
	}
	return dto
}

// FromFlowViews converts a slice of views.
func FromFlowViews(views []workflow.FlowView) []Flow {
	out := make([]Flow, 0, len(views))
	for _, view := range views {
		out = append(out, FromFlowView(view))
	}
	return out
}

// FromFlowProgress converts a tracker entry alone.
func FromFlowProgress(p workflow.FlowProgress) Flow {
	dto := Flow{
		TaskID:        p.TaskID,
		Status:        string(p.Status),
		CurrentStage:  p.CurrentStage,
		CurrentStep:   p.Step,
		Progress:      p.OverallProgress,
		StageProgress: p.StageProgress,
		Attempt:       p.Attempt,
		Live:          true,
		CreatedAt:     formatTime(p.StartedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
	if p.FinishedAt != nil {
		dto.FinishedAt = formatTime(*p.FinishedAt)
	}
	return dto
}

// FromEvent converts a hub event.
func FromEvent(evt notifications.Event) Event {
	dto := Event{
		Sequence:  evt.Sequence,
		TaskID:    evt.TaskID,
		Type:      string(evt.Type),
		Timestamp: formatTime(evt.Timestamp),
		Terminal:  evt.Terminal(),
	}
	if len(evt.Payload) > 0 {
		if raw, err := json.Marshal(evt.Payload); err == nil {
			dto.Payload = raw
		}
	}
	return dto
}

// FromStatusSummary converts the runner summary.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:            summary.Running,
		LastError:          summary.LastError,
		ActiveFlows:        summary.ActiveFlows,
		TrackedFlows:       summary.TrackedFlows,
		MaxConcurrentFlows: summary.MaxConcurrentFlows,
		Workers:            summary.Workers,
		Busy:               summary.Busy,
		QueueStats:         QueueStats(summary.Queue),
		StagesReady:        summary.StagesReady,
		StageHealth:        make([]StageHealth, 0, len(summary.StageHealth)),
		Flows:              make([]Flow, 0, len(summary.Flows)),
	}
	for _, h := range summary.StageHealth {
		status.StageHealth = append(status.StageHealth, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	for _, p := range summary.Flows {
		status.Flows = append(status.Flows, FromFlowProgress(p))
	}
	return status
}

// FromDaemonStatus converts daemon runtime information.
func FromDaemonStatus(status daemon.Status) DaemonStatus {
	return DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StartedAt:    formatTime(status.StartedAt),
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		TasksDir:     status.TasksDir,
		Recovery: RecoveryStatus{
			Reclaimed: status.Recovery.Reclaimed,
			Tracked:   status.Recovery.Tracked,
			Requeued:  status.Recovery.Requeued,
			Failed:    status.Recovery.Failed,
		},
		Workflow: FromStatusSummary(status.Workflow),
		Database: DatabaseStatus{
			SchemaVersion: status.Database.SchemaVersion,
			IntegrityOK:   status.Database.IntegrityCheck,
			TotalJobs:     status.Database.TotalJobs,
			Error:         status.Database.Error,
		},
	}
}

// QueueStats flattens queue counts keyed by job status.
func QueueStats(h queue.HealthSummary) map[string]int {
	return map[string]int{
		string(queue.JobQueued):    h.Queued,
		string(queue.JobRunning):   h.Running,
		string(queue.JobDone):      h.Done,
		string(queue.JobFailed):    h.Failed,
		string(queue.JobCancelled): h.Cancelled,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
