package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(store.New(db)), mock
}

func jobRows(id, jobType, status string, priority int, cancelRequested bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "job_name", "job_type", "status", "progress", "priority", "cancel_requested",
		"error_text", "metadata", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(id, jobType+"-sync", jobType, status, 0, priority, cancelRequested,
		"", []byte(`{}`), nil, nil, time.Now(), time.Now())
}

func scheduleRows(jobType string, enabled bool, cronExpr string, priority, maxConc, timeoutMin, retries int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_type", "enabled", "cron_expr", "priority", "max_concurrency",
		"timeout_minutes", "retry_attempts", "updated_at",
	}).AddRow(jobType, enabled, cronExpr, priority, maxConc, timeoutMin, retries, time.Now())
}

func TestTriggerCreatesPendingJob(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(scheduleRows(store.JobTypeQuran, true, "0 2 * * *", 3, 1, 60, 0))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 3, false))

	job, err := m.Trigger(context.Background(), store.JobTypeQuran, map[string]any{"force": true})
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, job.Status)
	assert.Equal(t, 3, job.Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerRejectsUnknownType(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Trigger(context.Background(), "bitcoin", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPauseAndResume(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPaused, 5, false))
	job, err := m.Pause(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, job.Status)

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusRunning, 5, false))
	job, err = m.Resume(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPausePendingJobConflicts(t *testing.T) {
	m, mock := newTestManager(t)

	// The conditional update matches no row; the repo re-reads to name the
	// actual state in the conflict.
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 5, false))

	_, err := m.Pause(context.Background(), "j1")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPendingIsImmediate(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 5, false))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusCancelled, 5, false))

	job, err := m.Cancel(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRunningIsCooperative(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusRunning, 5, false))
	mock.ExpectExec(`UPDATE jobs SET cancel_requested`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusRunning, 5, true))

	job, err := m.Cancel(context.Background(), "j1")
	require.NoError(t, err)
	// Still running until the worker polls the flag.
	assert.Equal(t, store.StatusRunning, job.Status)
	assert.True(t, job.CancelRequested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusCompleted, 5, false))

	_, err := m.Cancel(context.Background(), "j1")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestDeleteNonTerminalConflicts(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectExec(`DELETE FROM jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusRunning, 5, false))

	err := m.Delete(context.Background(), "j1")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestBulkReportsPerJobOutcomes(t *testing.T) {
	m, mock := newTestManager(t)

	// First id cancels cleanly.
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 5, false))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusCancelled, 5, false))
	// Second id does not exist; the bulk op keeps going.
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := m.Bulk(context.Background(), "cancel", []string{"j1", "ghost"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Success)
	assert.False(t, out[1].Success)
	assert.NotEmpty(t, out[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkRejectsUnknownOp(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Bulk(context.Background(), "explode", []string{"j1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestListReportsHasMore(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`FROM jobs`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 5, false))

	list, err := m.List(context.Background(), store.JobFilter{}, store.Pagination{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 12, list.Total)
	assert.Equal(t, 1, list.Limit)
	assert.True(t, list.HasMore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSchedulePatch(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(scheduleRows(store.JobTypeHadith, true, "0 3 * * 0", 5, 1, 60, 0))
	mock.ExpectExec(`UPDATE job_schedules`).WillReturnResult(sqlmock.NewResult(0, 1))

	expr := "0 4 * * *"
	conc := 2
	sched, err := m.UpdateSchedule(context.Background(), store.JobTypeHadith, SchedulePatch{
		CronExpr:       &expr,
		MaxConcurrency: &conc,
	})
	require.NoError(t, err)
	assert.Equal(t, expr, sched.CronExpr)
	assert.Equal(t, 2, sched.MaxConcurrency)
	// Untouched fields keep their values.
	assert.Equal(t, 60, sched.TimeoutMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleRejectsBadCron(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(scheduleRows(store.JobTypeHadith, true, "0 3 * * 0", 5, 1, 60, 0))

	expr := "every other thursday"
	_, err := m.UpdateSchedule(context.Background(), store.JobTypeHadith, SchedulePatch{CronExpr: &expr})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron(""))
	assert.NoError(t, ValidateCron("0 2 * * *"))
	assert.NoError(t, ValidateCron("*/15 * * * *"))
	assert.Error(t, ValidateCron("0 2 * *"))
	assert.Error(t, ValidateCron("nonsense"))
}
