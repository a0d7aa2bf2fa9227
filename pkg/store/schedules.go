package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// Job types, one per content domain.
const (
	JobTypeQuran   = "quran"
	JobTypePrayer  = "prayer"
	JobTypeHadith  = "hadith"
	JobTypeAudio   = "audio"
	JobTypeFinance = "finance"
	JobTypeZakat   = "zakat"
)

// JobTypes lists every known job type in seed order.
var JobTypes = []string{
	JobTypeQuran, JobTypePrayer, JobTypeHadith, JobTypeAudio, JobTypeFinance, JobTypeZakat,
}

// JobSchedule is the per-type scheduling policy, one row per domain.
// CronExpr is empty for manual-only types.
type JobSchedule struct {
	JobType        string    `json:"jobType"`
	Enabled        bool      `json:"enabled"`
	CronExpr       string    `json:"cronExpression"`
	Priority       int       `json:"priority"`
	MaxConcurrency int       `json:"maxConcurrency"`
	TimeoutMinutes int       `json:"timeoutMinutes"`
	RetryAttempts  int       `json:"retryAttempts"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks schedule bounds.
func (s *JobSchedule) Validate() error {
	var failures []string
	if s.MaxConcurrency < 1 {
		failures = append(failures, "max concurrency must be >= 1")
	}
	if s.TimeoutMinutes < 1 {
		failures = append(failures, "timeout minutes must be >= 1")
	}
	if s.RetryAttempts < 0 {
		failures = append(failures, "retry attempts must be >= 0")
	}
	if s.Priority < 1 || s.Priority > 10 {
		failures = append(failures, "priority must be in [1, 10]")
	}
	if len(failures) > 0 {
		return errs.Validation("invalid job schedule", failures...)
	}
	return nil
}

// ScheduleRepo persists job schedules.
type ScheduleRepo struct {
	s *Store
}

const scheduleColumns = `job_type, enabled, COALESCE(cron_expr,''), priority, max_concurrency, timeout_minutes, retry_attempts, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*JobSchedule, error) {
	var s JobSchedule
	err := row.Scan(&s.JobType, &s.Enabled, &s.CronExpr, &s.Priority,
		&s.MaxConcurrency, &s.TimeoutMinutes, &s.RetryAttempts, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Seed inserts default schedule rows for any missing job type. Existing rows
// are left untouched.
func (r *ScheduleRepo) Seed(ctx context.Context) error {
	defaults := map[string]string{
		JobTypeQuran:   "0 2 * * *",
		JobTypePrayer:  "0 1 * * *",
		JobTypeHadith:  "0 3 * * 0",
		JobTypeAudio:   "0 4 * * 0",
		JobTypeFinance: "0 */6 * * *",
		JobTypeZakat:   "30 */6 * * *",
	}
	for _, jt := range JobTypes {
		_, err := r.s.db.ExecContext(ctx, `
			INSERT INTO job_schedules (job_type, enabled, cron_expr, priority, max_concurrency, timeout_minutes, retry_attempts)
			VALUES ($1, TRUE, $2, 5, 1, 60, 0)
			ON CONFLICT (job_type) DO NOTHING`, jt, defaults[jt])
		if err != nil {
			return storageErr("seed", "job_schedule", err)
		}
	}
	return nil
}

// Get returns the schedule for a job type.
func (r *ScheduleRepo) Get(ctx context.Context, jobType string) (*JobSchedule, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM job_schedules WHERE job_type = $1`, jobType)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "no schedule for job type %s", jobType)
	}
	if err != nil {
		return nil, storageErr("get", "job_schedule", err)
	}
	return s, nil
}

// List returns all schedules in seed order.
func (r *ScheduleRepo) List(ctx context.Context) ([]*JobSchedule, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM job_schedules ORDER BY job_type`)
	if err != nil {
		return nil, storageErr("list", "job_schedule", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*JobSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, storageErr("list", "job_schedule", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update rewrites a schedule row.
func (r *ScheduleRepo) Update(ctx context.Context, s *JobSchedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE job_schedules
		SET enabled = $2, cron_expr = $3, priority = $4, max_concurrency = $5,
		    timeout_minutes = $6, retry_attempts = $7, updated_at = NOW()
		WHERE job_type = $1`,
		s.JobType, s.Enabled, nullStr(s.CronExpr), s.Priority, s.MaxConcurrency,
		s.TimeoutMinutes, s.RetryAttempts)
	if err != nil {
		return storageErr("update", "job_schedule", err)
	}
	return requireRow(res, "no schedule for that job type")
}

// Toggle flips the enabled flag.
func (r *ScheduleRepo) Toggle(ctx context.Context, jobType string, enabled bool) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE job_schedules SET enabled = $2, updated_at = NOW() WHERE job_type = $1`,
		jobType, enabled)
	if err != nil {
		return storageErr("toggle", "job_schedule", err)
	}
	return requireRow(res, "no schedule for that job type")
}
