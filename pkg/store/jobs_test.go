package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/errs"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func testJobRow(id, jobType, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "job_name", "job_type", "status", "progress", "priority",
		"cancel_requested", "error_text", "metadata", "started_at",
		"completed_at", "created_at", "updated_at",
	}).AddRow(id, jobType+"-sync", jobType, status, 0, 5, false, "",
		[]byte(`{}`), nil, nil, now, now)
}

func TestJobCreateReturnsPending(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("job-1", "quran-sync", "quran", StatusPending, 5, sqlmock.AnyArg()).
		WillReturnRows(testJobRow("job-1", "quran", StatusPending))

	job, err := st.Jobs.Create(context.Background(), &Job{
		ID: "job-1", JobName: "quran-sync", JobType: "quran", Priority: 5,
		Metadata: map[string]any{"source": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobGetNotFound(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.Jobs.Get(context.Background(), "missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestJobTransitionLoserGetsConflict(t *testing.T) {
	st, mock := newTestStore(t)
	// Conditional update matches nothing; the follow-up read shows the job
	// already completed.
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(testJobRow("job-1", "quran", StatusCompleted))

	_, err := st.Jobs.Transition(context.Background(), "job-1",
		[]string{StatusRunning}, StatusPaused)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobFailFromRunning(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WithArgs("job-1", StatusFailed, "timeout", sqlmock.AnyArg()).
		WillReturnRows(testJobRow("job-1", "quran", StatusFailed))

	job, err := st.Jobs.Fail(context.Background(), "job-1", "timeout")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestJobDeleteNonTerminalConflicts(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectExec(`DELETE FROM jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM jobs WHERE id`).
		WillReturnRows(testJobRow("job-1", "quran", StatusRunning))

	err := st.Jobs.Delete(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestJobDeleteTerminal(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectExec(`DELETE FROM jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, st.Jobs.Delete(context.Background(), "job-1"))
}

func TestJobUpdatePriorityBounds(t *testing.T) {
	st, _ := newTestStore(t)

	for _, p := range []int{0, 11, -3} {
		err := st.Jobs.UpdatePriority(context.Background(), "job-1", p)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err), "priority %d", p)
	}
}

func TestJobNextPendingEmptyQueue(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`ORDER BY priority, created_at LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := st.Jobs.NextPending(context.Background(), "quran")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueueStatusRollsUp(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(StatusPending, 3).
			AddRow(StatusRunning, 1).
			AddRow(StatusFailed, 2).
			AddRow(StatusPaused, 1))
	mock.ExpectQuery(`max_concurrency`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	q, err := st.Jobs.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, q.Waiting)
	assert.Equal(t, 1, q.Active)
	assert.Equal(t, 2, q.Failed)
	assert.Equal(t, 1, q.Paused)
	assert.Equal(t, 2, q.Delayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobListAppliesFilters(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WithArgs("failed", "quran").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY priority, created_at LIMIT`).
		WithArgs("failed", "quran", 20, 0).
		WillReturnRows(testJobRow("job-9", "quran", StatusFailed))

	jobs, total, err := st.Jobs.List(context.Background(),
		JobFilter{Status: "failed", JobType: "quran"}, Pagination{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-9", jobs[0].ID)
}
