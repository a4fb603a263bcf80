package workflow

import (
	"context"
	"errors"
	"fmt"

	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/services"
)

// FlowView pairs the durable manifest with the live tracker entry, when the
// flow is still tracked.
type FlowView struct {
	Manifest *manifest.Manifest `json:"manifest"`
	Live     *FlowProgress      `json:"live,omitempty"`
}

// GetFlow returns the view of one task. Missing tasks yield
// manifest.ErrNotFound.
func (o *Orchestrator) GetFlow(ctx context.Context, taskID string) (FlowView, error) {
	m, err := o.manifests.Load(ctx, taskID)
	if err != nil {
		return FlowView{}, err
	}
	return o.view(m), nil
}

// ListFlows returns every known task, oldest first.
func (o *Orchestrator) ListFlows(ctx context.Context) ([]FlowView, error) {
	manifests, err := o.manifests.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FlowView, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, o.view(m))
	}
	return out, nil
}

func (o *Orchestrator) view(m *manifest.Manifest) FlowView {
	view := FlowView{Manifest: m}
	if live, ok := o.tracker.Get(m.TaskID); ok {
		view.Live = &live
	}
	return view
}

// RemoveTask cancels a task's queued jobs, interrupts its running job,
// deletes the manifest and artifacts, and drops the tracker entry.
func (o *Orchestrator) RemoveTask(ctx context.Context, taskID string) error {
	unlock := o.locks.Lock(taskID)
	defer unlock()

	m, err := o.manifests.Load(ctx, taskID)
	if err != nil {
		return err
	}
	cancelled, err := o.queue.CancelTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("remove %s: %w", taskID, err)
	}
	interrupted := o.cancelInflight(taskID, errTaskRemoved)
	if err := o.manifests.Remove(ctx, taskID); err != nil && !errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("remove %s: %w", taskID, err)
	}
	o.tracker.Remove(taskID)
	o.throttle.Forget(taskID)

	o.logger.Info("task removed",
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldEventType, "task_removed"),
		logging.String("previous_status", string(m.Status)),
		logging.Int64("cancelled_jobs", cancelled),
		logging.Bool("interrupted", interrupted),
	)
	o.emit(ctx, taskID, notifications.EventStatusChange, notifications.Payload{
		"status":         "removed",
		"previousStatus": string(m.Status),
		"removed":        true,
	})
	return nil
}

// RetryTask resets a failed task to pending and re-runs the stage that
// failed with a fresh attempt budget. The task goes through admission
// control again.
func (o *Orchestrator) RetryTask(ctx context.Context, taskID string) (*manifest.Manifest, error) {
	unlock := o.locks.Lock(taskID)
	defer unlock()

	m, err := o.manifests.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if m.Status != pipeline.StatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, m.Status)
	}
	last, err := o.queue.LatestForTask(ctx, taskID, "")
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", taskID, err)
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no stage history", ErrNotRetryable)
	}
	def, err := definitionFor(last)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}

	if err := o.tracker.Reserve(taskID, o.cfg.Flow.MaxConcurrentFlows); err != nil {
		return nil, err
	}
	step := "Retry queued for " + def.Stage.Label()
	updated, err := o.mutate(ctx, taskID, func(m *manifest.Manifest) (bool, error) {
		if m.Status != pipeline.StatusFailed {
			return false, ErrNotRetryable
		}
		m.ResetForRetry(step)
		return true, nil
	})
	if err != nil {
		o.tracker.Release(taskID)
		return nil, err
	}

	_, err = o.enqueue(ctx, queue.EnqueueRequest{
		TaskID:      taskID,
		Stage:       def.Queue,
		Attempt:     1,
		MaxAttempts: o.attempts(def),
		Priority:    last.Priority,
		InputJSON:   last.InputJSON,
	})
	if err != nil {
		message := fmt.Sprintf("retry could not be queued: %v", err)
		_, _ = o.mutate(ctx, taskID, func(m *manifest.Manifest) (bool, error) {
			m.Finish(pipeline.StatusFailed, message, o.now())
			return true, nil
		})
		o.tracker.Release(taskID)
		o.emitFailed(ctx, taskID, failure{
			url:         sourceURL(last),
			stage:       def.Stage.String(),
			message:     message,
			kind:        services.KindOf(err),
			maxAttempts: o.attempts(def),
		})
		return nil, fmt.Errorf("retry %s: %w", taskID, err)
	}

	o.tracker.Upsert(taskID, func(p *FlowProgress) {
		p.CurrentStage = def.Stage.String()
		p.OverallProgress = updated.Progress
		p.Step = step
		p.StartedAt = updated.CreatedAt
	})
	o.logger.Info("task retry queued",
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldStage, def.Stage.String()),
		logging.String(logging.FieldEventType, "task_retry"),
	)
	o.emit(ctx, taskID, notifications.EventStatusChange, notifications.Payload{
		"status": string(pipeline.StatusPending),
		"stage":  def.Stage.String(),
		"retry":  true,
	})
	return updated, nil
}
