package workflow

import (
	"context"
	"time"

	"vidflow/internal/queue"
)

// JobQueue is the slice of the job substrate the coordinator depends on.
// *queue.Store satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error)
	Claim(ctx context.Context, stages ...string) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job, resultJSON string) error
	Fail(ctx context.Context, job *queue.Job, resultJSON, message string) error
	Heartbeat(ctx context.Context, id int64, leaseID string) error
	CancelTask(ctx context.Context, taskID string) (int64, error)
	OpenForTask(ctx context.Context, taskID string) (*queue.Job, error)
	LatestForTask(ctx context.Context, taskID, stage string) (*queue.Job, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
}

var _ JobQueue = (*queue.Store)(nil)
