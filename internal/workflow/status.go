package workflow

import (
	"context"

	"vidflow/internal/logging"
	"vidflow/internal/queue"
	"vidflow/internal/stage"
)

// StatusSummary represents lightweight coordinator diagnostics.
type StatusSummary struct {
	Running            bool                `json:"running"`
	LastError          string              `json:"lastError,omitempty"`
	ActiveFlows        int                 `json:"activeFlows"`
	TrackedFlows       int                 `json:"trackedFlows"`
	MaxConcurrentFlows int                 `json:"maxConcurrentFlows"`
	Workers            int                 `json:"workers"`
	Busy               int                 `json:"busy"`
	Queue              queue.HealthSummary `json:"queue"`
	StageHealth        []stage.Health      `json:"stageHealth"`
	StagesReady        bool                `json:"stagesReady"`
	Flows              []FlowProgress      `json:"flows"`
}

// Status returns the latest coordinator information.
func (r *Runner) Status(ctx context.Context) StatusSummary {
	state := r.State()
	tracker := r.orch.Tracker()
	summary := StatusSummary{
		Running:            state.Running,
		LastError:          state.LastError,
		ActiveFlows:        tracker.ActiveCount(),
		TrackedFlows:       tracker.Count(),
		MaxConcurrentFlows: r.cfg.Flow.MaxConcurrentFlows,
		Workers:            state.Workers,
		Busy:               state.Busy,
		StageHealth:        r.HealthChecks(ctx),
		Flows:              tracker.ListActive(),
	}
	summary.StagesReady = stage.AllReady(summary.StageHealth)
	health, err := r.queue.Health(ctx)
	if err != nil {
		r.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
		)
	}
	summary.Queue = health
	return summary
}
