package store

import (
	"context"
	"database/sql"
	"time"
)

// Sync and job statuses shared between the sync log and live job records.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPartial   = "partial"
	StatusSuccess   = "success"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusPaused    = "paused"
)

// SyncJobLog is one completed (or in-flight) sync run. The latest success or
// partial row per (job name, resource) answers "last successful sync".
type SyncJobLog struct {
	ID               int64      `json:"id"`
	JobName          string     `json:"jobName"`
	Resource         string     `json:"resource"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Status           string     `json:"status"`
	ErrorText        string     `json:"errorText,omitempty"`
	DurationMs       int64      `json:"durationMs"`
	RecordsProcessed int        `json:"recordsProcessed"`
	RecordsFailed    int        `json:"recordsFailed"`
}

// SyncLogRepo persists sync job history.
type SyncLogRepo struct {
	s *Store
}

// Start opens a running log row and returns its id.
func (r *SyncLogRepo) Start(ctx context.Context, jobName, resource string) (int64, error) {
	var id int64
	err := r.s.db.QueryRowContext(ctx, `
		INSERT INTO sync_job_log (job_name, resource, status) VALUES ($1, $2, $3) RETURNING id`,
		jobName, resource, StatusRunning).Scan(&id)
	if err != nil {
		return 0, storageErr("start", "sync_job_log", err)
	}
	return id, nil
}

// Finish closes a log row with aggregate counts.
func (r *SyncLogRepo) Finish(ctx context.Context, id int64, status, errorText string, processed, failed int, duration time.Duration) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE sync_job_log
		SET finished_at = NOW(), status = $2, error_text = $3, duration_ms = $4,
		    records_processed = $5, records_failed = $6
		WHERE id = $1`,
		id, status, nullStr(errorText), duration.Milliseconds(), processed, failed)
	if err != nil {
		return storageErr("finish", "sync_job_log", err)
	}
	return nil
}

// LastCompleted returns the newest success or partial run for (job,
// resource), or nil when none exists. The sync engine's gating check.
func (r *SyncLogRepo) LastCompleted(ctx context.Context, jobName, resource string) (*SyncJobLog, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, job_name, resource, started_at, finished_at, status,
		       COALESCE(error_text,''), duration_ms, records_processed, records_failed
		FROM sync_job_log
		WHERE job_name = $1 AND resource = $2 AND status IN ($3, $4)
		ORDER BY started_at DESC LIMIT 1`,
		jobName, resource, StatusSuccess, StatusPartial)
	l, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("last_completed", "sync_job_log", err)
	}
	return l, nil
}

// Recent returns the newest runs across all jobs.
func (r *SyncLogRepo) Recent(ctx context.Context, limit int) ([]*SyncJobLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, job_name, resource, started_at, finished_at, status,
		       COALESCE(error_text,''), duration_ms, records_processed, records_failed
		FROM sync_job_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr("recent", "sync_job_log", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SyncJobLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, storageErr("recent", "sync_job_log", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanSyncLog(row interface{ Scan(...any) error }) (*SyncJobLog, error) {
	var l SyncJobLog
	var finished sql.NullTime
	err := row.Scan(&l.ID, &l.JobName, &l.Resource, &l.StartedAt, &finished, &l.Status,
		&l.ErrorText, &l.DurationMs, &l.RecordsProcessed, &l.RecordsFailed)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		l.FinishedAt = &finished.Time
	}
	return &l, nil
}
