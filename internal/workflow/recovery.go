package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/services"
	"vidflow/internal/stage"
)

// RecoveryReport summarizes what Recover did.
type RecoveryReport struct {
	Reclaimed int64
	Tracked   int
	Requeued  int
	Failed    int
}

// Recover runs once at startup before the Runner claims jobs. Running jobs
// are returned to the queue, non-terminal manifests get tracker entries
// again, and every such task without an open job has the stage implied by
// its status enqueued.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	reclaimed, err := o.queue.ReclaimStale(ctx, o.now())
	if err != nil {
		return report, fmt.Errorf("recover: %w", err)
	}
	report.Reclaimed = reclaimed

	manifests, err := o.manifests.List(ctx)
	if err != nil {
		return report, fmt.Errorf("recover: %w", err)
	}
	report.Tracked = len(o.tracker.Recover(manifests))

	for _, m := range manifests {
		if m.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		requeued, err := o.recoverTask(ctx, m)
		switch {
		case err != nil:
			report.Failed++
			o.failRecovered(ctx, m, err)
		case requeued:
			report.Requeued++
		}
	}

	o.logger.Info("recovery complete",
		logging.String(logging.FieldEventType, "recovery_complete"),
		logging.Int64("reclaimed_jobs", report.Reclaimed),
		logging.Int("tracked_flows", report.Tracked),
		logging.Int("requeued", report.Requeued),
		logging.Int("failed", report.Failed),
	)
	return report, nil
}

func (o *Orchestrator) recoverTask(ctx context.Context, m *manifest.Manifest) (bool, error) {
	unlock := o.locks.Lock(m.TaskID)
	defer unlock()

	open, err := o.queue.OpenForTask(ctx, m.TaskID)
	if err != nil {
		return false, err
	}
	if open != nil {
		return false, nil
	}
	req, err := o.recoveryRequest(ctx, m)
	if err != nil {
		return false, err
	}
	if _, err := o.enqueue(ctx, req); err != nil {
		return false, err
	}
	o.logger.Info("flow re-queued after restart",
		logging.String(logging.FieldTaskID, m.TaskID),
		logging.String(logging.FieldStage, req.Stage),
		logging.String(logging.FieldEventType, "flow_requeued"),
		logging.String("status", string(m.Status)),
	)
	return true, nil
}

// recoveryRequest rebuilds the job for the stage a manifest is waiting on.
// A pending manifest re-runs its latest job. A running status re-runs the
// latest job of the owning stage, or, when that stage was never enqueued,
// starts it from the previous stage's stored result.
func (o *Orchestrator) recoveryRequest(ctx context.Context, m *manifest.Manifest) (queue.EnqueueRequest, error) {
	if m.Status == pipeline.StatusPending {
		last, err := o.queue.LatestForTask(ctx, m.TaskID, "")
		if err != nil {
			return queue.EnqueueRequest{}, err
		}
		if last == nil {
			return queue.EnqueueRequest{}, errors.New("no stage job recorded for pending task")
		}
		if err := checkResumable(last); err != nil {
			return queue.EnqueueRequest{}, err
		}
		return resumeRequest(last), nil
	}

	st, ok := pipeline.StageForStatus(m.Status)
	if !ok {
		return queue.EnqueueRequest{}, fmt.Errorf("status %s does not map to a stage", m.Status)
	}
	def := pipeline.MustLookup(st)
	last, err := o.queue.LatestForTask(ctx, m.TaskID, def.Queue)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	if last != nil {
		if err := checkResumable(last); err != nil {
			return queue.EnqueueRequest{}, err
		}
		return resumeRequest(last), nil
	}

	prevStage, ok := pipeline.Previous(st)
	if !ok {
		return queue.EnqueueRequest{}, fmt.Errorf("no %s job recorded", def.Stage)
	}
	prev, err := o.queue.LatestForTask(ctx, m.TaskID, pipeline.MustLookup(prevStage).Queue)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	if prev == nil || prev.Status != queue.JobDone {
		return queue.EnqueueRequest{}, fmt.Errorf("no completed %s job to resume %s from", prevStage, def.Stage)
	}
	in, err := stage.DecodeInput(prev.InputJSON)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	result, err := stage.DecodeResult(prev.ResultJSON)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	if result == nil {
		return queue.EnqueueRequest{}, fmt.Errorf("completed %s job has no stored result", prevStage)
	}
	in.Previous = result
	encoded, err := stage.EncodeInput(in)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	return queue.EnqueueRequest{
		TaskID:      m.TaskID,
		Stage:       def.Queue,
		Attempt:     1,
		MaxAttempts: o.attempts(def),
		Priority:    prev.Priority,
		InputJSON:   encoded,
	}, nil
}

// finalFailure reports a stage whose latest job failed for good before the
// restart: the error was not retryable or the attempts were used up.
type finalFailure struct {
	failure
}

func (f *finalFailure) Error() string {
	return fmt.Sprintf("%s failed permanently: %s", f.stage, f.message)
}

func checkResumable(last *queue.Job) error {
	if last.Status != queue.JobFailed {
		return nil
	}
	kind := services.ErrorKindUnknown
	if res, err := stage.DecodeResult(last.ResultJSON); err == nil && res != nil && res.ErrorKind != "" {
		kind = res.ErrorKind
	}
	if !last.Exhausted() && services.RetryableKind(kind, last.ErrorMessage) {
		return nil
	}
	name := last.Stage
	if def, err := definitionFor(last); err == nil {
		name = def.Stage.String()
	}
	return &finalFailure{failure{
		url:         sourceURL(last),
		stage:       name,
		message:     last.ErrorMessage,
		kind:        kind,
		attempt:     last.Attempt,
		maxAttempts: last.MaxAttempts,
	}}
}

func resumeRequest(last *queue.Job) queue.EnqueueRequest {
	attempt := last.Attempt
	if last.Status == queue.JobFailed {
		attempt++
	}
	return queue.EnqueueRequest{
		TaskID:      last.TaskID,
		Stage:       last.Stage,
		Attempt:     attempt,
		MaxAttempts: last.MaxAttempts,
		Priority:    last.Priority,
		InputJSON:   last.InputJSON,
	}
}

// failRecovered marks a task failed that restart recovery cannot resume. A
// stage that had already failed for good keeps its own error message.
func (o *Orchestrator) failRecovered(ctx context.Context, m *manifest.Manifest, cause error) {
	f := failure{
		message: fmt.Sprintf("recovery after restart failed: %v", cause),
		kind:    services.KindOf(cause),
	}
	if st, ok := pipeline.StageForStatus(m.Status); ok {
		f.stage = st.String()
	}
	var final *finalFailure
	if errors.As(cause, &final) {
		f = final.failure
		if strings.TrimSpace(f.message) == "" {
			f.message = fmt.Sprintf("%s failed", f.stage)
		}
	}
	logging.WarnWithContext(o.logger, "flow could not be recovered", "recovery_failed",
		logging.String(logging.FieldTaskID, m.TaskID),
		logging.String("status", string(m.Status)),
		logging.String(logging.FieldStage, f.stage),
		logging.String(logging.FieldErrorKind, string(f.kind)),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "the task is marked failed"),
		logging.String(logging.FieldErrorHint, "retry the task or submit the URL again"),
	)

	unlock := o.locks.Lock(m.TaskID)
	defer unlock()
	_, err := o.mutate(ctx, m.TaskID, func(current *manifest.Manifest) (bool, error) {
		if current.Terminal() {
			return false, errStaleEvent
		}
		current.Finish(pipeline.StatusFailed, f.message, o.now())
		return true, nil
	})
	if err != nil {
		return
	}
	o.tracker.Patch(m.TaskID, func(p *FlowProgress) {
		p.Status = pipeline.StatusFailed
		if f.stage != "" {
			p.CurrentStage = f.stage
		}
		p.Step = "Failed"
	})
	o.settle(m.TaskID)
	o.emitFailed(ctx, m.TaskID, f)
}
