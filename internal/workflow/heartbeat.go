package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vidflow/internal/logging"
	"vidflow/internal/queue"
)

// HeartbeatMonitor keeps job leases alive and returns abandoned jobs to the
// queue.
type HeartbeatMonitor struct {
	queue             JobQueue
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(q JobQueue, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		queue:             q,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               time.Now,
	}
}

// ReclaimStale requeues running jobs whose lease has not been refreshed
// within the heartbeat timeout.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.queue.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale stage jobs",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "jobs_reclaimed"),
		)
	}
	return reclaimed, nil
}

// Keep refreshes the lease of job until ctx ends. onLost runs once when the
// queue reports the lease is gone (the job was cancelled or reclaimed).
func (h *HeartbeatMonitor) Keep(ctx context.Context, job *queue.Job, onLost func()) {
	if h.heartbeatInterval <= 0 || job == nil {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.queue.Heartbeat(ctx, job.ID, job.LeaseID)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrStaleJob):
				logging.WarnWithContext(logger, "job lease lost", "heartbeat_lease_lost",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.String(logging.FieldImpact, "the running attempt is abandoned"),
					logging.String(logging.FieldErrorHint, "the task was removed or the job was reclaimed after a stall"),
				)
				if onLost != nil {
					onLost()
				}
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat update cancelled")
				return
			default:
				logging.WarnWithContext(logger, "heartbeat update failed", "heartbeat_failed",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "the job may be reclaimed if heartbeats keep failing"),
				)
			}
		}
	}
}
