package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, task_id, stage, attempt, max_attempts, priority, input_json, result_json, status, lease_id, error_message, available_at, last_heartbeat, created_at, updated_at"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		priority     int
		inputJSON    sql.NullString
		resultJSON   sql.NullString
		status       string
		leaseID      sql.NullString
		errorMessage sql.NullString
		availableRaw string
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.TaskID,
		&job.Stage,
		&job.Attempt,
		&job.MaxAttempts,
		&priority,
		&inputJSON,
		&resultJSON,
		&status,
		&leaseID,
		&errorMessage,
		&availableRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Priority = Priority(priority)
	job.InputJSON = inputJSON.String
	job.ResultJSON = resultJSON.String
	job.Status = JobStatus(status)
	job.LeaseID = leaseID.String
	job.ErrorMessage = errorMessage.String
	if t, err := parseTimeString(availableRaw); err == nil {
		job.AvailableAt = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	if heartbeatRaw.Valid {
		if t, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &t
		}
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
