package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// Job is a live job status record. Terminal states are sticky; transitions
// are enforced with conditional updates so no two concurrent mutators can
// observe the same pre-state and both succeed.
type Job struct {
	ID              string         `json:"id"`
	JobName         string         `json:"jobName"`
	JobType         string         `json:"jobType"`
	Status          string         `json:"status"`
	Progress        int            `json:"progress"`
	Priority        int            `json:"priority"`
	CancelRequested bool           `json:"cancelRequested"`
	ErrorText       string         `json:"errorText,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status    string
	JobType   string
	Priority  int
	StartDate *time.Time
	EndDate   *time.Time
}

// JobRepo persists live job records.
type JobRepo struct {
	s *Store
}

const jobColumns = `id, job_name, job_type, status, progress, priority, cancel_requested,
	COALESCE(error_text,''), metadata, started_at, completed_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var meta []byte
	var started, completed sql.NullTime
	err := row.Scan(&j.ID, &j.JobName, &j.JobType, &j.Status, &j.Progress, &j.Priority,
		&j.CancelRequested, &j.ErrorText, &meta, &started, &completed, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &j.Metadata)
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return &j, nil
}

// Create inserts a pending job.
func (r *JobRepo) Create(ctx context.Context, j *Job) (*Job, error) {
	var meta []byte
	if j.Metadata != nil {
		var err error
		meta, err = json.Marshal(j.Metadata)
		if err != nil {
			return nil, storageErr("create", "job", err)
		}
	}
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, job_name, job_type, status, priority, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+jobColumns,
		j.ID, j.JobName, j.JobType, StatusPending, j.Priority, meta)
	created, err := scanJob(row)
	if err != nil {
		return nil, storageErr("create", "job", err)
	}
	return created, nil
}

// Get returns a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*Job, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, storageErr("get", "job", err)
	}
	return j, nil
}

// Transition moves a job from one of the allowed pre-states to next. The
// conditional WHERE makes the edge serializable per job id: the loser of a
// race sees zero rows and gets a conflict.
func (r *JobRepo) Transition(ctx context.Context, id string, from []string, to string) (*Job, error) {
	extra := ""
	switch to {
	case StatusRunning:
		extra = ", started_at = COALESCE(started_at, NOW())"
	case StatusCompleted, StatusFailed, StatusCancelled:
		extra = ", completed_at = NOW()"
	}
	row := r.s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()`+extra+`
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		id, to, pq.StringArray(from))
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, errs.Newf(errs.KindConflict, "cannot move job from %s to %s", cur.Status, to)
	}
	if err != nil {
		return nil, storageErr("transition", "job", err)
	}
	return j, nil
}

// Fail marks a running or paused job failed with an error message.
func (r *JobRepo) Fail(ctx context.Context, id, errorText string) (*Job, error) {
	row := r.s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, error_text = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+jobColumns,
		id, StatusFailed, errorText, pq.StringArray{StatusRunning, StatusPaused})
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, errs.Newf(errs.KindConflict, "cannot fail job in state %s", cur.Status)
	}
	if err != nil {
		return nil, storageErr("fail", "job", err)
	}
	return j, nil
}

// RequestCancel flips the cooperative cancellation flag. The running worker
// polls it between records.
func (r *JobRepo) RequestCancel(ctx context.Context, id string) error {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return storageErr("request_cancel", "job", err)
	}
	return nil
}

// CancelRequested reads the cooperative cancellation flag.
func (r *JobRepo) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := r.s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, errs.New(errs.KindNotFound, "job not found")
	}
	if err != nil {
		return false, storageErr("cancel_requested", "job", err)
	}
	return flag, nil
}

// UpdatePriority changes scheduling priority (1 highest .. 10 lowest).
func (r *JobRepo) UpdatePriority(ctx context.Context, id string, priority int) error {
	if priority < 1 || priority > 10 {
		return errs.Validation("invalid priority", "priority must be in [1, 10]")
	}
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE jobs SET priority = $2, updated_at = NOW() WHERE id = $1`, id, priority)
	if err != nil {
		return storageErr("update_priority", "job", err)
	}
	return requireRow(res, "job not found")
}

// UpdateProgress persists a progress push from the running worker.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress int, meta map[string]any) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return storageErr("update_progress", "job", err)
		}
	}
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = $2,
			metadata = CASE WHEN $3::jsonb IS NULL THEN metadata ELSE COALESCE(metadata, '{}'::jsonb) || $3::jsonb END,
			updated_at = NOW()
		WHERE id = $1`, id, progress, metaJSON)
	if err != nil {
		return storageErr("update_progress", "job", err)
	}
	return nil
}

// Delete removes a job; only terminal jobs may be deleted.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status = ANY($2)`,
		id, pq.StringArray{StatusCompleted, StatusFailed, StatusCancelled})
	if err != nil {
		return storageErr("delete", "job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", "job", err)
	}
	if n == 0 {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return errs.Newf(errs.KindConflict, "cannot delete job in state %s", cur.Status)
	}
	return nil
}

// List returns jobs matching the filter, priority order, with a total count.
func (r *JobRepo) List(ctx context.Context, f JobFilter, p Pagination) ([]*Job, int, error) {
	p = p.Normalize()
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		where += " AND " + clause + placeholder(n)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status = ", f.Status)
	}
	if f.JobType != "" {
		add("job_type = ", f.JobType)
	}
	if f.Priority > 0 {
		add("priority = ", f.Priority)
	}
	if f.StartDate != nil {
		add("created_at >= ", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= ", *f.EndDate)
	}

	var total int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("list", "job", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where +
		` ORDER BY priority, created_at LIMIT ` + placeholder(n+1) + ` OFFSET ` + placeholder(n+2)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, storageErr("list", "job", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, storageErr("list", "job", err)
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}

// NextPending returns the highest-priority pending job of the type, oldest
// first within a priority.
func (r *JobRepo) NextPending(ctx context.Context, jobType string) (*Job, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE job_type = $1 AND status = $2
		ORDER BY priority, created_at LIMIT 1`, jobType, StatusPending)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("next_pending", "job", err)
	}
	return j, nil
}

// CountByTypeAndStatus counts live jobs per type in a status; the runner's
// concurrency-cap check.
func (r *JobRepo) CountByTypeAndStatus(ctx context.Context, jobType, status string) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE job_type = $1 AND status = $2`, jobType, status).Scan(&n)
	if err != nil {
		return 0, storageErr("count", "job", err)
	}
	return n, nil
}

// QueueCounters is the roll-up shape for queue status. Delayed counts
// pending jobs held back by a saturated per-type concurrency cap.
type QueueCounters struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Paused    int `json:"paused"`
	Cancelled int `json:"cancelled"`
}

// QueueStatus derives the queue counters from live records.
func (r *JobRepo) QueueStatus(ctx context.Context) (*QueueCounters, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, storageErr("queue_status", "job", err)
	}
	defer func() { _ = rows.Close() }()

	var q QueueCounters
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("queue_status", "job", err)
		}
		switch status {
		case StatusPending:
			q.Waiting = n
		case StatusRunning:
			q.Active = n
		case StatusCompleted:
			q.Completed = n
		case StatusFailed:
			q.Failed = n
		case StatusCancelled:
			q.Cancelled = n
		case StatusPaused:
			q.Paused = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("queue_status", "job", err)
	}

	err = r.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs j
		JOIN job_schedules s ON s.job_type = j.job_type
		WHERE j.status = $1
		  AND (SELECT COUNT(*) FROM jobs a WHERE a.job_type = j.job_type AND a.status = $2) >= s.max_concurrency`,
		StatusPending, StatusRunning).Scan(&q.Delayed)
	if err != nil {
		return nil, storageErr("queue_status", "job", err)
	}
	return &q, nil
}
