package stage

import (
	"context"

	"vidflow/internal/pipeline"
)

// Update is one progress report from a running processor.
type Update struct {
	// Percent is stage-local progress, 0..100.
	Percent float64
	Step    string
	// Phase optionally advances the task to a later status owned by the same
	// stage (audio extraction reports separating, then transcribing).
	Phase pipeline.Status
}

// ProgressFunc receives progress updates. Implementations must be safe to
// call from any goroutine.
type ProgressFunc func(Update)

// Processor performs the work of one stage. Run must be re-invocable from
// scratch for retries and must return promptly once ctx is cancelled.
type Processor interface {
	Stage() pipeline.Stage
	Run(ctx context.Context, in Input, progress ProgressFunc) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// Report is a nil-safe helper for calling a ProgressFunc.
func (f ProgressFunc) Report(percent float64, step string) {
	if f != nil {
		f(Update{Percent: percent, Step: step})
	}
}

// Phase reports a sub-status transition along with progress.
func (f ProgressFunc) Phase(phase pipeline.Status, percent float64, step string) {
	if f != nil {
		f(Update{Percent: percent, Step: step, Phase: phase})
	}
}
