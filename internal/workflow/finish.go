package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/services"
	"vidflow/internal/stage"
)

// StageFinished settles one stage attempt. The job row is closed first with
// a lease compare-and-set, so a duplicate or stale delivery is detected
// before the manifest is touched.
func (o *Orchestrator) StageFinished(ctx context.Context, job *queue.Job, res stage.Result) {
	def, err := definitionFor(job)
	if err != nil {
		o.logger.Error("finished job has no stage definition", logging.Error(err))
		return
	}
	logger := logging.WithContext(ctx, o.logger).With(logging.Int64(logging.FieldJobID, job.ID))

	if res.Success {
		encoded, encErr := stage.EncodeResult(res)
		if encErr != nil {
			res = stage.Failed(job.TaskID, def.Stage.String(), services.Wrap(services.ErrValidation, def.Stage.String(), "encode result", "Stage result could not be serialized", encErr))
		} else {
			err = o.queue.Ack(ctx, job, encoded)
		}
	}
	if !res.Success {
		if strings.TrimSpace(res.Error) == "" {
			res.Error = fmt.Sprintf("%s failed without an error message", def.Stage.Label())
		}
		// A failed result that cannot be encoded still closes the job; only
		// the stored kind is lost.
		encoded, _ := stage.EncodeResult(res)
		err = o.queue.Fail(ctx, job, encoded, res.Error)
	}
	switch {
	case errors.Is(err, queue.ErrStaleJob):
		logger.Info("duplicate stage result ignored",
			logging.String(logging.FieldEventType, "duplicate_result"),
			logging.Bool("success", res.Success),
		)
		return
	case err != nil:
		logging.ErrorWithContext(logger, "closing stage job failed", "queue_error",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the job is reclaimed and re-run after the heartbeat timeout"),
		)
		return
	}

	unlock := o.locks.Lock(job.TaskID)
	defer unlock()

	if res.Success {
		o.stageSucceeded(ctx, job, def, res)
		return
	}
	o.stageFailed(ctx, job, def, res)
}

func (o *Orchestrator) stageSucceeded(ctx context.Context, job *queue.Job, def pipeline.Definition, res stage.Result) {
	logger := logging.WithContext(ctx, o.logger)
	url := sourceURL(job)
	next, hasNext := pipeline.Next(def.Stage)

	m, err := o.mutate(ctx, job.TaskID, func(m *manifest.Manifest) (bool, error) {
		if m.Terminal() || (m.Status != pipeline.StatusPending && !def.Owns(m.Status)) {
			return false, errStaleEvent
		}
		m.MergeFiles(res.Files)
		m.SetProgress(def.End())
		if hasNext {
			nextDef := pipeline.MustLookup(next)
			m.Status = nextDef.EntryStatus
			m.CurrentStep = "Queued for " + next.Label()
			return true, nil
		}
		m.Finish(pipeline.StatusCompleted, "", o.now())
		return true, nil
	})
	if o.ignoreMutation(ctx, job, err, "stage success") {
		return
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("files", len(res.Files)),
		logging.Int("overall_progress", m.Progress),
	)
	o.throttle.Allow(job.TaskID, def.Stage.String(), true)
	o.emit(ctx, job.TaskID, notifications.EventStageComplete, notifications.Payload{
		"url":             url,
		"stage":           def.Stage.String(),
		"files":           res.Files,
		"overallProgress": m.Progress,
	})

	if !hasNext {
		o.tracker.Patch(job.TaskID, func(p *FlowProgress) {
			p.Status = pipeline.StatusCompleted
			p.StageProgress = 100
			p.OverallProgress = 100
			p.Step = m.CurrentStep
		})
		o.settle(job.TaskID)
		logger.Info("flow completed", logging.String(logging.FieldEventType, "flow_complete"))
		o.emit(ctx, job.TaskID, notifications.EventStatusChange, notifications.Payload{
			"status": string(pipeline.StatusCompleted),
			"stage":  def.Stage.String(),
		})
		o.emit(ctx, job.TaskID, notifications.EventComplete, notifications.Payload{
			"url":             url,
			"files":           m.Files,
			"overallProgress": 100,
		})
		return
	}

	nextDef := pipeline.MustLookup(next)
	if err := o.enqueueNext(ctx, job, nextDef, res); err != nil {
		o.failTerminal(ctx, job, nextDef, url, services.Details(err).Message, services.KindOf(err))
		return
	}
	o.tracker.Patch(job.TaskID, func(p *FlowProgress) {
		p.Status = nextDef.EntryStatus
		p.CurrentStage = next.String()
		p.StageProgress = 0
		p.OverallProgress = def.End()
		p.Step = m.CurrentStep
		p.Attempt = 0
	})
	o.emit(ctx, job.TaskID, notifications.EventStatusChange, notifications.Payload{
		"status": string(nextDef.EntryStatus),
		"stage":  next.String(),
	})
}

func (o *Orchestrator) enqueueNext(ctx context.Context, job *queue.Job, next pipeline.Definition, res stage.Result) error {
	in, err := stage.DecodeInput(job.InputJSON)
	if err != nil {
		return err
	}
	in.Previous = &res
	encoded, err := stage.EncodeInput(in)
	if err != nil {
		return err
	}
	_, err = o.enqueue(ctx, queue.EnqueueRequest{
		TaskID:      job.TaskID,
		Stage:       next.Queue,
		Attempt:     1,
		MaxAttempts: o.attempts(next),
		Priority:    job.Priority,
		InputJSON:   encoded,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, next.Stage.String(), "enqueue", "Could not queue the next stage", err)
	}
	return nil
}

func (o *Orchestrator) stageFailed(ctx context.Context, job *queue.Job, def pipeline.Definition, res stage.Result) {
	logger := logging.WithContext(ctx, o.logger)
	url := sourceURL(job)
	kind := res.ErrorKind
	if kind == "" {
		kind = services.ErrorKindUnknown
	}

	retryable := services.RetryableKind(kind, res.Error)
	if !retryable || job.Exhausted() {
		logging.WarnWithContext(logger, "stage failed permanently", "stage_failed",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.String("error", res.Error),
			logging.Bool("retryable", retryable),
			logging.Int(logging.FieldAttempt, job.Attempt),
			logging.Int("max_attempts", job.MaxAttempts),
			logging.String(logging.FieldImpact, "the task is marked failed"),
			logging.String(logging.FieldErrorHint, "inspect the error and retry the task once the cause is fixed"),
		)
		o.failTerminal(ctx, job, def, url, res.Error, kind)
		return
	}

	step := fmt.Sprintf("Retrying %s (attempt %d of %d)", def.Stage.Label(), job.Attempt+1, job.MaxAttempts)
	_, err := o.mutate(ctx, job.TaskID, func(m *manifest.Manifest) (bool, error) {
		if m.Terminal() || (m.Status != pipeline.StatusPending && !def.Owns(m.Status)) {
			return false, errStaleEvent
		}
		m.ResetForRetry(step)
		return true, nil
	})
	if o.ignoreMutation(ctx, job, err, "stage retry") {
		return
	}

	_, err = o.enqueue(ctx, queue.EnqueueRequest{
		TaskID:      job.TaskID,
		Stage:       job.Stage,
		Attempt:     job.Attempt + 1,
		MaxAttempts: job.MaxAttempts,
		Priority:    job.Priority,
		InputJSON:   job.InputJSON,
	})
	if err != nil {
		o.failTerminal(ctx, job, def, url, fmt.Sprintf("%s; retry could not be queued: %v", res.Error, err), kind)
		return
	}

	logging.WarnWithContext(logger, "stage failed, retrying", "stage_retry",
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String("error", res.Error),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.Int("next_attempt", job.Attempt+1),
		logging.String(logging.FieldImpact, "the stage is re-run after the retry backoff"),
	)
	o.tracker.Patch(job.TaskID, func(p *FlowProgress) {
		p.Status = pipeline.StatusPending
		p.StageProgress = 0
		p.Step = step
		p.Attempt = job.Attempt + 1
	})
	o.emit(ctx, job.TaskID, notifications.EventStageFailed, notifications.Payload{
		"url":         url,
		"stage":       def.Stage.String(),
		"error":       res.Error,
		"errorKind":   string(kind),
		"attempt":     job.Attempt,
		"maxAttempts": job.MaxAttempts,
		"retrying":    true,
	})
}

// failTerminal marks the task failed, releases its capacity slot, and emits
// the terminal events. A manifest write failure still ends the flow in the
// tracker; restart recovery finds the failed job and settles the manifest.
func (o *Orchestrator) failTerminal(ctx context.Context, job *queue.Job, def pipeline.Definition, url, message string, kind services.ErrorKind) {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("%s failed", def.Stage.Label())
	}
	_, err := o.mutate(ctx, job.TaskID, func(m *manifest.Manifest) (bool, error) {
		if m.Terminal() {
			return false, errStaleEvent
		}
		m.Finish(pipeline.StatusFailed, message, o.now())
		return true, nil
	})
	if o.ignoreMutation(ctx, job, err, "stage failure") && !manifestWriteFailed(err) {
		return
	}

	o.tracker.Patch(job.TaskID, func(p *FlowProgress) {
		p.Status = pipeline.StatusFailed
		p.CurrentStage = def.Stage.String()
		p.Step = "Failed"
	})
	o.settle(job.TaskID)
	o.emitFailed(ctx, job.TaskID, failure{
		url:         url,
		stage:       def.Stage.String(),
		message:     message,
		kind:        kind,
		attempt:     job.Attempt,
		maxAttempts: job.MaxAttempts,
	})
}

// failure describes a stage failure that ends a flow.
type failure struct {
	url         string
	stage       string
	message     string
	kind        services.ErrorKind
	attempt     int
	maxAttempts int
}

// emitFailed publishes the status change and the terminal stage-failed
// event for a flow that will not run again.
func (o *Orchestrator) emitFailed(ctx context.Context, taskID string, f failure) {
	if f.kind == "" {
		f.kind = services.ErrorKindUnknown
	}
	o.emit(ctx, taskID, notifications.EventStatusChange, notifications.Payload{
		"status": string(pipeline.StatusFailed),
		"stage":  f.stage,
		"error":  f.message,
	})
	o.emit(ctx, taskID, notifications.EventStageFailed, notifications.Payload{
		"url":         f.url,
		"stage":       f.stage,
		"error":       f.message,
		"errorKind":   string(f.kind),
		"attempt":     f.attempt,
		"maxAttempts": f.maxAttempts,
		"retrying":    false,
	})
}

// settle schedules tracker removal for a finished flow.
func (o *Orchestrator) settle(taskID string) {
	o.tracker.ScheduleRemoval(taskID, o.cfg.GracePeriod())
	o.throttle.Forget(taskID)
}

// ignoreMutation reports whether a failed manifest transition should abort
// the caller. Store I/O failures leave the last good manifest in place; the
// flow is picked up again by restart recovery.
func (o *Orchestrator) ignoreMutation(ctx context.Context, job *queue.Job, err error, what string) bool {
	if err == nil {
		return false
	}
	logger := logging.WithContext(ctx, o.logger)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		logger.Info("stage event for removed task dropped",
			logging.String(logging.FieldEventType, "removed_task_event"),
			logging.String("event", what),
		)
	case errors.Is(err, errStaleEvent):
		logger.Info("stale stage event ignored",
			logging.String(logging.FieldEventType, "stale_event"),
			logging.String("event", what),
			logging.String("job_stage", job.Stage),
		)
	default:
		logging.ErrorWithContext(logger, "manifest update failed", "manifest_io",
			logging.Error(err),
			logging.String("event", what),
			logging.String(logging.FieldImpact, "the manifest keeps its last good state until restart recovery"),
			logging.String(logging.FieldErrorHint, "check free space and permissions of the data directory"),
		)
	}
	return true
}

func manifestWriteFailed(err error) bool {
	return err != nil && !errors.Is(err, manifest.ErrNotFound) && !errors.Is(err, errStaleEvent)
}
