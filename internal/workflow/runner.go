package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"vidflow/internal/config"
	"vidflow/internal/logging"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/services"
	"vidflow/internal/stage"
)

const reclaimEvery = 30 * time.Second

// Runner claims stage jobs from the queue and executes them on a bounded
// worker pool.
type Runner struct {
	cfg        *config.Config
	queue      JobQueue
	orch       *Orchestrator
	processors map[pipeline.Stage]stage.Processor
	stages     []string
	heartbeat  *HeartbeatMonitor
	logger     *slog.Logger
	workers    int

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	pool      *ants.Pool
	lastErr   error
	lastJobAt time.Time

	wg   sync.WaitGroup
	busy atomic.Int32
	wake chan struct{}
}

// NewRunner registers one processor per stage. Stages without a processor
// are not claimed.
func NewRunner(cfg *config.Config, q JobQueue, orch *Orchestrator, processors []stage.Processor, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	byStage := make(map[pipeline.Stage]stage.Processor, len(processors))
	for _, proc := range processors {
		if proc == nil {
			continue
		}
		st := proc.Stage()
		def, ok := pipeline.Lookup(st)
		if !ok {
			return nil, fmt.Errorf("processor for unknown stage %d", st)
		}
		if _, dup := byStage[st]; dup {
			return nil, fmt.Errorf("duplicate processor for stage %s", def.Stage)
		}
		byStage[st] = proc
	}
	if len(byStage) == 0 {
		return nil, errors.New("no stage processors configured")
	}
	stages := make([]string, 0, len(byStage))
	for _, def := range pipeline.Definitions() {
		if _, ok := byStage[def.Stage]; ok {
			stages = append(stages, def.Queue)
		}
	}
	workers := cfg.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	runnerLogger := logging.NewComponentLogger(logger, "runner")
	r := &Runner{
		cfg:        cfg,
		queue:      q,
		orch:       orch,
		processors: byStage,
		stages:     stages,
		heartbeat:  NewHeartbeatMonitor(q, runnerLogger, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
		logger:     runnerLogger,
		workers:    workers,
		wake:       make(chan struct{}, 1),
	}
	orch.OnEnqueue(r.Notify)
	return r, nil
}

// Start begins claiming jobs in the background.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("runner already running")
	}
	pool, err := ants.NewPool(r.workers, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    false,
		PanicHandler: func(recovered any) {
			r.logger.Error("worker panic escaped job handler",
				logging.Any("panic", recovered),
				logging.String(logging.FieldEventType, "worker_panic"),
				logging.String("stack", string(debug.Stack())),
			)
		},
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.pool = pool
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(runCtx)

	r.logger.Info("runner started",
		logging.Int("workers", r.workers),
		logging.Any("stages", r.stages),
		logging.String(logging.FieldEventType, "runner_start"),
	)
	return nil
}

// Stop cancels in-flight jobs and waits for workers to return. Interrupted
// jobs keep their lease and are reclaimed on the next start.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	pool := r.pool
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	pool.Release()
	r.logger.Info("runner stopped", logging.String(logging.FieldEventType, "runner_stop"))
}

// Notify wakes the claim loop early, typically after a new flow is queued.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()
	var lastReclaim time.Time

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastReclaim) >= reclaimEvery {
			lastReclaim = time.Now()
			if _, err := r.heartbeat.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
				r.setLastError(err)
				logging.WarnWithContext(r.logger, "reclaim stale jobs failed", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stalled jobs stay leased until the next sweep"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
		r.dispatch(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// dispatch claims jobs while the pool has idle workers.
func (r *Runner) dispatch(ctx context.Context) {
	for r.pool.Free() > 0 {
		job, err := r.queue.Claim(ctx, r.stages...)
		if err != nil {
			if ctx.Err() == nil {
				r.setLastError(err)
				r.logger.Error("failed to claim stage job",
					logging.Error(err),
					logging.String(logging.FieldEventType, "queue_claim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
			return
		}
		if job == nil {
			return
		}
		r.wg.Add(1)
		claimed := job
		if err := r.pool.Submit(func() {
			defer r.wg.Done()
			r.execute(ctx, claimed)
		}); err != nil {
			r.wg.Done()
			r.setLastError(err)
			logging.WarnWithContext(r.logger, "worker pool rejected job", "pool_submit_failed",
				logging.Int64(logging.FieldJobID, claimed.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the job is reclaimed after the heartbeat timeout"),
			)
			return
		}
	}
}

func (r *Runner) execute(parent context.Context, job *queue.Job) {
	r.busy.Add(1)
	defer r.busy.Add(-1)
	r.markJob()

	def, err := definitionFor(job)
	if err != nil {
		r.orch.dropJob(parent, job, err.Error())
		return
	}
	ctx := services.WithTaskID(parent, job.TaskID)
	ctx = services.WithStage(ctx, def.Stage.String())
	ctx = services.WithAttempt(ctx, job.Attempt)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger).With(logging.Int64(logging.FieldJobID, job.ID))

	proc, ok := r.processors[def.Stage]
	if !ok {
		r.orch.StageFinished(ctx, job, stage.Failed(job.TaskID, def.Stage.String(),
			services.Wrap(services.ErrConfiguration, def.Stage.String(), "dispatch", "No processor registered for stage", nil)))
		return
	}
	in, err := stage.DecodeInput(job.InputJSON)
	if err != nil {
		r.orch.StageFinished(ctx, job, stage.Failed(job.TaskID, def.Stage.String(), err))
		return
	}
	if !r.orch.StageStarted(ctx, job) {
		return
	}

	timeout := r.orch.stageTimeout(def)
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	r.orch.registerInflight(job.TaskID, job.ID, cancelRun)
	defer r.orch.unregisterInflight(job.TaskID, job.ID)

	timedCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	hbCtx, stopHeartbeat := context.WithCancel(timedCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		r.heartbeat.Keep(hbCtx, job, func() { cancelRun(errLeaseLost) })
	}()

	sampler := logging.NewProgressSampler(10)
	var samplerMu sync.Mutex
	progress := func(update stage.Update) {
		r.orch.StageProgress(ctx, job.TaskID, def.Stage, update)
		samplerMu.Lock()
		emit := sampler.ShouldLog(update.Percent, string(update.Phase))
		samplerMu.Unlock()
		if emit {
			logger.Info("stage progress",
				logging.Float64("percent", update.Percent),
				logging.String("step", update.Step),
				logging.String(logging.FieldEventType, "stage_progress"),
			)
		}
	}

	started := time.Now()
	res, runErr := runProcessor(timedCtx, proc, in, progress)
	stopHeartbeat()
	hbWG.Wait()

	if parent.Err() != nil {
		logger.Info("stage interrupted by shutdown",
			logging.String(logging.FieldEventType, "stage_interrupted"),
			logging.String(logging.FieldImpact, "the job is re-run after restart"),
		)
		return
	}
	if cause := context.Cause(runCtx); errors.Is(cause, errTaskRemoved) || errors.Is(cause, errLeaseLost) {
		logger.Info("stage abandoned",
			logging.String(logging.FieldEventType, "stage_abandoned"),
			logging.String("reason", cause.Error()),
		)
		return
	}

	if errors.Is(timedCtx.Err(), context.DeadlineExceeded) && (runErr != nil || !res.Success) {
		detail := fmt.Sprintf("%s exceeded its timeout of %s", def.Stage.Label(), timeout)
		runErr = services.Wrap(services.ErrTimeout, def.Stage.String(), "run", detail, nil)
	}
	switch {
	case runErr != nil:
		res = stage.Failed(job.TaskID, def.Stage.String(), runErr)
	case !res.Success && res.Error == "":
		res.Error = def.Stage.Label() + " reported failure without detail"
	}
	res.TaskID = job.TaskID
	res.Stage = def.Stage.String()

	logger.Info("stage attempt finished",
		logging.String(logging.FieldEventType, "stage_attempt_finished"),
		logging.Bool("success", res.Success),
		logging.Duration("elapsed", time.Since(started)),
	)
	r.orch.StageFinished(ctx, job, res)
}

// runProcessor invokes proc and converts a panic into a stage error.
func runProcessor(ctx context.Context, proc stage.Processor, in stage.Input, progress stage.ProgressFunc) (res stage.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			name := proc.Stage().String()
			err = services.Wrap(services.ErrExternalTool, name, "run", fmt.Sprintf("processor panic: %v", recovered), nil)
		}
	}()
	return proc.Run(ctx, in, progress)
}

// RunnerStatus is the worker side of the status summary.
type RunnerStatus struct {
	Running   bool      `json:"running"`
	Workers   int       `json:"workers"`
	Busy      int       `json:"busy"`
	LastError string    `json:"lastError,omitempty"`
	LastJobAt time.Time `json:"lastJobAt,omitzero"`
}

// State reports the runner's current activity.
func (r *Runner) State() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := RunnerStatus{
		Running:   r.running,
		Workers:   r.workers,
		Busy:      int(r.busy.Load()),
		LastJobAt: r.lastJobAt,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

// HealthChecks runs every processor's health check in pipeline order.
func (r *Runner) HealthChecks(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(r.processors))
	for _, def := range pipeline.Definitions() {
		proc, ok := r.processors[def.Stage]
		if !ok {
			out = append(out, stage.Unhealthy(def.Stage.String(), "no processor registered"))
			continue
		}
		out = append(out, proc.HealthCheck(ctx))
	}
	return out
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) markJob() {
	r.mu.Lock()
	r.lastJobAt = time.Now().UTC()
	r.mu.Unlock()
}
