package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vidflow/internal/config"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/queue"
	"vidflow/internal/stage"
	"vidflow/internal/workflow"
)

// ErrNotRunning is returned by flow operations while the daemon is stopped.
var ErrNotRunning = errors.New("daemon is not running")

// Daemon owns the coordinator lifecycle and enforces single-instance
// execution through a lock file in the data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	orch     *workflow.Orchestrator
	producer *workflow.Producer
	runner   *workflow.Runner

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc

	startedAt time.Time
	recovery  workflow.RecoveryReport
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	QueueDBPath  string
	LockFilePath string
	TasksDir     string
	Recovery     workflow.RecoveryReport
	Workflow     workflow.StatusSummary
	Database     queue.DatabaseHealth
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, orch *workflow.Orchestrator, producer *workflow.Producer, runner *workflow.Runner, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || orch == nil || producer == nil || runner == nil {
		return nil, errors.New("daemon requires config, queue store, orchestrator, producer, and runner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		orch:     orch,
		producer: producer,
		runner:   runner,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers flows left by a previous run, and
// starts the stage runner.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	report, err := d.orch.Recover(runCtx)
	if err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("recover flows: %w", err)
	}
	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start runner: %w", err)
	}

	d.cancel = cancel
	d.recovery = report
	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("vidflow daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("recovered_flows", report.Tracked),
		logging.Int("requeued_flows", report.Requeued),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("vidflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon and releases the queue database and tracker timers.
func (d *Daemon) Close() error {
	d.Stop()
	d.orch.Tracker().Stop()
	return d.store.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon state.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt, recovery := d.startedAt, d.recovery
	d.mu.Unlock()
	// CheckHealth records its failure in the returned struct.
	db, _ := d.store.CheckHealth(ctx)
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		TasksDir:     d.cfg.TasksDir(),
		Recovery:     recovery,
		Workflow:     d.runner.Status(ctx),
		Database:     db,
	}
}

// CreateFlow admits a new flow.
func (d *Daemon) CreateFlow(ctx context.Context, url string, opts stage.Options) (workflow.FlowTicket, error) {
	if !d.running.Load() {
		return workflow.FlowTicket{}, ErrNotRunning
	}
	return d.producer.CreateFlow(ctx, url, opts)
}

// GetFlow returns one flow.
func (d *Daemon) GetFlow(ctx context.Context, taskID string) (workflow.FlowView, error) {
	return d.orch.GetFlow(ctx, taskID)
}

// ListFlows returns every known flow.
func (d *Daemon) ListFlows(ctx context.Context) ([]workflow.FlowView, error) {
	return d.orch.ListFlows(ctx)
}

// RemoveTask cancels and deletes a flow.
func (d *Daemon) RemoveTask(ctx context.Context, taskID string) error {
	return d.orch.RemoveTask(ctx, taskID)
}

// RetryTask re-queues a failed flow.
func (d *Daemon) RetryTask(ctx context.Context, taskID string) (*manifest.Manifest, error) {
	if !d.running.Load() {
		return nil, ErrNotRunning
	}
	return d.orch.RetryTask(ctx, taskID)
}
