package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Enqueue inserts a queued job. Attempts after the first become available
// only after the retry backoff.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, errors.New("enqueue: task id is required")
	}
	if strings.TrimSpace(req.Stage) == "" {
		return nil, errors.New("enqueue: stage is required")
	}
	if req.Attempt <= 0 {
		req.Attempt = 1
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 1
	}

	now := s.now().UTC()
	available := now.Add(s.Backoff(req.Attempt))
	nowStr := formatTime(now)

	res, err := s.execWithRetry(ctx,
		`INSERT INTO stage_jobs (task_id, stage, attempt, max_attempts, priority, input_json, status, available_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.TaskID, req.Stage, req.Attempt, req.MaxAttempts, int(req.Priority), nullableString(req.InputJSON),
		string(JobQueued), formatTime(available), nowStr, nowStr,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job for %s: %w", req.Stage, req.TaskID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue last insert id: %w", err)
	}
	return &Job{
		ID:          id,
		TaskID:      req.TaskID,
		Stage:       req.Stage,
		Attempt:     req.Attempt,
		MaxAttempts: req.MaxAttempts,
		Priority:    req.Priority,
		InputJSON:   req.InputJSON,
		Status:      JobQueued,
		AvailableAt: available,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Claim leases the next available job for the given stages (all stages when
// none are given). It never hands out a job for a task that already has a
// running job. Returns nil when nothing is ready.
func (s *Store) Claim(ctx context.Context, stages ...string) (*Job, error) {
	now := formatTime(s.now())
	lease := uuid.NewString()

	args := []any{string(JobRunning), lease, now, now, string(JobQueued), now, string(JobRunning)}
	stageFilter := ""
	if len(stages) > 0 {
		stageFilter = " AND stage IN (" + makePlaceholders(len(stages)) + ")"
		for _, stage := range stages {
			args = append(args, stage)
		}
	}
	args = append(args, string(JobQueued))

	query := `UPDATE stage_jobs
		SET status = ?, lease_id = ?, last_heartbeat = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM stage_jobs
			WHERE status = ? AND available_at <= ?
			  AND task_id NOT IN (SELECT task_id FROM stage_jobs WHERE status = ?)` + stageFilter + `
			ORDER BY priority DESC, available_at, id
			LIMIT 1
		) AND status = ?
		RETURNING ` + jobColumns

	var job *Job
	err := retryOnBusy(ensureContext(ctx), func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		scanned, scanErr := scanJob(row)
		if scanErr != nil {
			return scanErr
		}
		job = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim stage job: %w", err)
	}
	return job, nil
}

// Ack marks a running job done and stores its result. It fails with
// ErrStaleJob when the lease no longer matches (duplicate delivery).
func (s *Store) Ack(ctx context.Context, job *Job, resultJSON string) error {
	return s.finish(ctx, job, JobDone, resultJSON, "")
}

// Fail marks a running job failed with message. resultJSON holds the failed
// stage result, when there is one, so the error kind survives a restart.
func (s *Store) Fail(ctx context.Context, job *Job, resultJSON, message string) error {
	return s.finish(ctx, job, JobFailed, resultJSON, message)
}

func (s *Store) finish(ctx context.Context, job *Job, status JobStatus, resultJSON, message string) error {
	if job == nil {
		return errors.New("finish: job is nil")
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE stage_jobs SET status = ?, result_json = ?, error_message = ?, lease_id = NULL, updated_at = ?
		 WHERE id = ? AND lease_id = ? AND status = ?`,
		string(status), nullableString(resultJSON), nullableString(message), formatTime(s.now()),
		job.ID, job.LeaseID, string(JobRunning),
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", job.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStaleJob
	}
	job.Status = status
	job.LeaseID = ""
	job.ResultJSON = resultJSON
	job.ErrorMessage = message
	return nil
}

// Heartbeat refreshes the lease timestamp of a running job.
func (s *Store) Heartbeat(ctx context.Context, id int64, leaseID string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE stage_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND lease_id = ? AND status = ?`,
		formatTime(s.now()), formatTime(s.now()), id, leaseID, string(JobRunning),
	)
	if err != nil {
		return fmt.Errorf("heartbeat job %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStaleJob
	}
	return nil
}

// CancelTask cancels every open job of a task and returns how many rows
// changed. Running jobs lose their lease so a late Ack is rejected.
func (s *Store) CancelTask(ctx context.Context, taskID string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE stage_jobs SET status = ?, lease_id = NULL, updated_at = ? WHERE task_id = ? AND status IN (?, ?)`,
		string(JobCancelled), formatTime(s.now()), taskID, string(JobQueued), string(JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for %s: %w", taskID, err)
	}
	return res.RowsAffected()
}

// GetByID fetches a single job.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM stage_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// OpenForTask returns the queued or running job of a task, or nil.
func (s *Store) OpenForTask(ctx context.Context, taskID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM stage_jobs WHERE task_id = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1`,
		taskID, string(JobQueued), string(JobRunning),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open job for %s: %w", taskID, err)
	}
	return job, nil
}

// LatestForTask returns the newest job of a task, restricted to stage when
// stage is non-empty. Returns nil when the task has no matching job.
func (s *Store) LatestForTask(ctx context.Context, taskID, stage string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM stage_jobs WHERE task_id = ?`
	args := []any{taskID}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job for %s: %w", taskID, err)
	}
	return job, nil
}

// ListByTask returns every job of a task in creation order.
func (s *Store) ListByTask(ctx context.Context, taskID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM stage_jobs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", taskID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
