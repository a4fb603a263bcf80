package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ReclaimStale returns running jobs whose heartbeat is older than cutoff to
// the queue. Their leases are revoked.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE stage_jobs SET status = ?, lease_id = NULL, updated_at = ?
		 WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(JobQueued), formatTime(s.now()), string(JobRunning), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetRunning requeues every running job. The daemon calls it at startup,
// when no worker can legitimately hold a lease.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE stage_jobs SET status = ?, lease_id = NULL, updated_at = ? WHERE status = ?`,
		string(JobQueued), formatTime(s.now()), string(JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes closed jobs last updated before cutoff.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM stage_jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(JobDone), string(JobFailed), string(JobCancelled), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM stage_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[JobStatus(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case JobQueued:
			health.Queued += count
		case JobRunning:
			health.Running += count
		case JobDone:
			health.Done += count
		case JobFailed:
			health.Failed += count
		case JobCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	version, err := s.userVersion(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.SchemaVersion = version

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'stage_jobs'")
	switch err := row.Scan(&tableName); {
	case errors.Is(err, sql.ErrNoRows):
		health.TableExists = false
	case err != nil:
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	default:
		health.TableExists = true
	}

	if health.TableExists {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM stage_jobs").Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count stage jobs: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
