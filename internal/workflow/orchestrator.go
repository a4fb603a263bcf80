package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vidflow/internal/config"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/stage"
)

// Orchestrator owns every manifest and tracker transition of a flow. All
// transitions for one task run under that task's keyed lock.
type Orchestrator struct {
	cfg       *config.Config
	queue     JobQueue
	manifests manifest.Store
	tracker   *Tracker
	sink      notifications.Sink
	throttle  *Throttle
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	inflight  map[string]inflightJob
	onEnqueue func()
}

type inflightJob struct {
	jobID  int64
	cancel context.CancelCauseFunc
}

// NewOrchestrator wires the coordinator. A nil sink discards events and a
// nil tracker gets a fresh one.
func NewOrchestrator(cfg *config.Config, q JobQueue, manifests manifest.Store, tracker *Tracker, sink notifications.Sink, logger *slog.Logger) *Orchestrator {
	if tracker == nil {
		tracker = NewTracker()
	}
	if sink == nil {
		sink = notifications.Noop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		queue:     q,
		manifests: manifests,
		tracker:   tracker,
		sink:      sink,
		throttle:  NewThrottle(cfg.ProgressThrottle()),
		locks:     newKeyedMutex(),
		logger:    logging.NewComponentLogger(logger, "orchestrator"),
		now:       time.Now,
		inflight:  make(map[string]inflightJob),
	}
}

// Tracker exposes the live progress view.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// ActiveFlowCount is the admission check value.
func (o *Orchestrator) ActiveFlowCount() int { return o.tracker.ActiveCount() }

func (o *Orchestrator) attempts(def pipeline.Definition) int {
	return o.cfg.StageAttempts(def.Queue, def.MaxAttempts)
}

func (o *Orchestrator) stageTimeout(def pipeline.Definition) time.Duration {
	return o.cfg.StageTimeout(def.Queue, def.Timeout)
}

// StageStarted moves the manifest into the stage's entry status. It returns
// false when the job should not run: the task is gone, already finished, or
// currently owned by a different stage. Such jobs are closed in the queue.
func (o *Orchestrator) StageStarted(ctx context.Context, job *queue.Job) bool {
	def, err := definitionFor(job)
	if err != nil {
		o.dropJob(ctx, job, err.Error())
		return false
	}
	logger := logging.WithContext(ctx, o.logger)

	unlock := o.locks.Lock(job.TaskID)
	defer unlock()

	changed := false
	m, err := o.mutate(ctx, job.TaskID, func(m *manifest.Manifest) (bool, error) {
		switch {
		case m.Terminal():
			return false, errStaleEvent
		case m.Status == pipeline.StatusPending:
			m.Status = def.EntryStatus
			m.CurrentStep = def.Stage.Label()
			changed = true
			return true, nil
		case def.Owns(m.Status):
			return false, nil
		default:
			return false, errStaleEvent
		}
	})
	switch {
	case errors.Is(err, manifest.ErrNotFound), errors.Is(err, errStaleEvent):
		logger.Info("stage job ignored",
			logging.String(logging.FieldEventType, "stale_job_dropped"),
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("reason", err.Error()),
		)
		o.dropJob(ctx, job, "task no longer expects this stage")
		return false
	case err != nil:
		logging.WarnWithContext(logger, "manifest update failed at stage start", "manifest_io",
			logging.Error(err),
			logging.String(logging.FieldImpact, "manifest keeps its previous status until the next boundary"),
			logging.String(logging.FieldErrorHint, "check free space and permissions of the data directory"),
		)
	}

	status := def.EntryStatus
	if m != nil {
		status = m.Status
	}
	o.tracker.Patch(job.TaskID, func(p *FlowProgress) {
		p.Status = status
		p.CurrentStage = def.Stage.String()
		p.StageProgress = 0
		p.Step = def.Stage.Label()
		p.Attempt = job.Attempt
		p.OverallProgress = def.BaseWeight
	})
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.Int("max_attempts", job.MaxAttempts),
	)
	if changed || job.Attempt > 1 {
		o.emit(ctx, job.TaskID, notifications.EventStatusChange, notifications.Payload{
			"status":  string(status),
			"stage":   def.Stage.String(),
			"attempt": job.Attempt,
		})
	}
	return true
}

// StageProgress records stage-local progress. Only the tracker is updated;
// a reported sub-status also advances the manifest.
func (o *Orchestrator) StageProgress(ctx context.Context, taskID string, st pipeline.Stage, update stage.Update) {
	def, ok := pipeline.Lookup(st)
	if !ok {
		return
	}
	if _, tracked := o.tracker.Get(taskID); !tracked {
		return
	}

	phaseChanged := false
	if update.Phase != "" && def.Owns(update.Phase) {
		phaseChanged = o.advancePhase(ctx, taskID, def, update)
	}

	local := min(max(int(update.Percent), 0), 100)
	progress, ok := o.tracker.Patch(taskID, func(p *FlowProgress) {
		p.CurrentStage = def.Stage.String()
		p.StageProgress = local
		p.OverallProgress = def.Overall(update.Percent)
		if update.Step != "" {
			p.Step = update.Step
		}
		if phaseChanged {
			p.Status = update.Phase
		}
	})
	if !ok {
		return
	}
	if phaseChanged {
		o.emit(ctx, taskID, notifications.EventStatusChange, notifications.Payload{
			"status": string(update.Phase),
			"stage":  def.Stage.String(),
		})
	}
	if !o.throttle.Allow(taskID, def.Stage.String(), local >= 100 || phaseChanged) {
		return
	}
	o.emit(ctx, taskID, notifications.EventProgress, notifications.Payload{
		"stage":           def.Stage.String(),
		"stageProgress":   progress.StageProgress,
		"overallProgress": progress.OverallProgress,
		"step":            progress.Step,
		"status":          string(progress.Status),
	})
}

func (o *Orchestrator) advancePhase(ctx context.Context, taskID string, def pipeline.Definition, update stage.Update) bool {
	unlock := o.locks.Lock(taskID)
	defer unlock()

	changed := false
	_, err := o.mutate(ctx, taskID, func(m *manifest.Manifest) (bool, error) {
		if m.Terminal() || !def.Owns(m.Status) {
			return false, errStaleEvent
		}
		if m.Status == update.Phase || !pipeline.CanTransition(m.Status, update.Phase) {
			return false, nil
		}
		m.Status = update.Phase
		if update.Step != "" {
			m.CurrentStep = update.Step
		}
		m.SetProgress(def.Overall(update.Percent))
		changed = true
		return true, nil
	})
	if err != nil && !errors.Is(err, errStaleEvent) && !errors.Is(err, manifest.ErrNotFound) {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "manifest update failed on phase change", "manifest_io",
			logging.Error(err),
			logging.String("phase", string(update.Phase)),
			logging.String(logging.FieldImpact, "sub-status not persisted"),
		)
		return false
	}
	return changed
}

// mutate runs fn inside the manifest store's load-modify-save. fn returns
// false to skip the write; the current manifest is still returned.
func (o *Orchestrator) mutate(ctx context.Context, taskID string, fn func(*manifest.Manifest) (bool, error)) (*manifest.Manifest, error) {
	var snapshot *manifest.Manifest
	updated, err := o.manifests.Update(ctx, taskID, func(m *manifest.Manifest) error {
		write, err := fn(m)
		if err != nil {
			return err
		}
		if !write {
			snapshot = m.Clone()
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return snapshot, nil
	}
	return updated, err
}

// enqueue inserts a job and wakes the runner.
func (o *Orchestrator) enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error) {
	job, err := o.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	hook := o.onEnqueue
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
	return job, nil
}

// OnEnqueue registers a callback invoked after every successful enqueue.
func (o *Orchestrator) OnEnqueue(fn func()) {
	o.mu.Lock()
	o.onEnqueue = fn
	o.mu.Unlock()
}

// emit publishes to the sink. Delivery is best effort.
func (o *Orchestrator) emit(ctx context.Context, taskID string, eventType notifications.EventType, payload notifications.Payload) {
	if err := o.sink.Publish(ctx, taskID, eventType, payload); err != nil {
		logging.WarnWithContext(o.logger, "notification publish failed", "notification_failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("event", string(eventType)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "subscribers may miss this event"),
		)
	}
}

// dropJob closes a claimed job that must not run.
func (o *Orchestrator) dropJob(ctx context.Context, job *queue.Job, reason string) {
	if err := o.queue.Fail(ctx, job, "", reason); err != nil && !errors.Is(err, queue.ErrStaleJob) {
		logging.WarnWithContext(o.logger, "closing dropped job failed", "queue_error",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the job is reclaimed after the heartbeat timeout"),
		)
	}
}

func (o *Orchestrator) registerInflight(taskID string, jobID int64, cancel context.CancelCauseFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight[taskID] = inflightJob{jobID: jobID, cancel: cancel}
}

func (o *Orchestrator) unregisterInflight(taskID string, jobID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.inflight[taskID]; ok && current.jobID == jobID {
		delete(o.inflight, taskID)
	}
}

func (o *Orchestrator) cancelInflight(taskID string, cause error) bool {
	o.mu.Lock()
	current, ok := o.inflight[taskID]
	delete(o.inflight, taskID)
	o.mu.Unlock()
	if ok {
		current.cancel(cause)
	}
	return ok
}

func definitionFor(job *queue.Job) (pipeline.Definition, error) {
	if job == nil {
		return pipeline.Definition{}, errors.New("job is nil")
	}
	st, err := pipeline.ParseStage(job.Stage)
	if err != nil {
		return pipeline.Definition{}, fmt.Errorf("job %d: %w", job.ID, err)
	}
	return pipeline.MustLookup(st), nil
}

// sourceURL extracts the submitted URL from a job input for event payloads.
func sourceURL(job *queue.Job) string {
	if job == nil {
		return ""
	}
	in, err := stage.DecodeInput(job.InputJSON)
	if err != nil {
		return ""
	}
	return in.URL
}
