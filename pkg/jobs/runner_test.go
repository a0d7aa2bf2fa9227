package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
)

func newTestRunner(t *testing.T, dispatch Dispatch) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRunner(store.New(db), nil, dispatch), mock
}

func cancelFlagRows(flag bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"cancel_requested"}).AddRow(flag)
}

func TestRunOnceRespectsConcurrencyCap(t *testing.T) {
	called := false
	r, mock := newTestRunner(t, Dispatch{
		store.JobTypeQuran: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			called = true
			return &syncer.Result{Success: true}, nil
		},
	})

	mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(scheduleRows(store.JobTypeQuran, true, "", 5, 1, 60, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ran := r.runOnce(context.Background(), store.JobTypeQuran)
	assert.False(t, ran)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnceExecutesPendingJob(t *testing.T) {
	var got *store.Job
	r, mock := newTestRunner(t, Dispatch{
		store.JobTypeQuran: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			got = job
			return &syncer.Result{Success: true, RecordsProcessed: 10}, nil
		},
	})

	mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(scheduleRows(store.JobTypeQuran, true, "", 5, 1, 60, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY priority, created_at LIMIT 1`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusPending, 5, false))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusRunning, 5, false))
	mock.ExpectQuery(`SELECT cancel_requested`).WillReturnRows(cancelFlagRows(false))
	mock.ExpectExec(`UPDATE jobs SET progress`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j1", store.JobTypeQuran, store.StatusCompleted, 5, false))

	ran := r.runOnce(context.Background(), store.JobTypeQuran)
	assert.True(t, ran)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRetriesThenFails(t *testing.T) {
	attempts := 0
	r, mock := newTestRunner(t, Dispatch{
		store.JobTypeHadith: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			attempts++
			return nil, errors.New("upstream down")
		},
	})

	// One retry: two attempts, each followed by a cancel-flag poll, then the
	// terminal failure update.
	mock.ExpectQuery(`SELECT cancel_requested`).WillReturnRows(cancelFlagRows(false))
	mock.ExpectQuery(`SELECT cancel_requested`).WillReturnRows(cancelFlagRows(false))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j2", store.JobTypeHadith, store.StatusFailed, 5, false))

	job := &store.Job{ID: "j2", JobType: store.JobTypeHadith, Status: store.StatusRunning}
	sched := &store.JobSchedule{JobType: store.JobTypeHadith, MaxConcurrency: 1,
		TimeoutMinutes: 60, RetryAttempts: 1}
	r.execute(context.Background(), job, sched)

	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteHonorsCancelFlag(t *testing.T) {
	r, mock := newTestRunner(t, Dispatch{
		store.JobTypeAudio: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			// The worker stopped early once the flag flipped.
			return &syncer.Result{Success: false, RecordsProcessed: 3}, nil
		},
	})

	mock.ExpectQuery(`SELECT cancel_requested`).WillReturnRows(cancelFlagRows(true))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j3", store.JobTypeAudio, store.StatusCancelled, 5, true))

	job := &store.Job{ID: "j3", JobType: store.JobTypeAudio, Status: store.StatusRunning}
	sched := &store.JobSchedule{JobType: store.JobTypeAudio, MaxConcurrency: 1,
		TimeoutMinutes: 60, RetryAttempts: 3}
	r.execute(context.Background(), job, sched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteWithoutDispatchFails(t *testing.T) {
	r, mock := newTestRunner(t, Dispatch{})

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j4", store.JobTypeZakat, store.StatusFailed, 5, false))

	job := &store.Job{ID: "j4", JobType: store.JobTypeZakat, Status: store.StatusRunning}
	sched := &store.JobSchedule{JobType: store.JobTypeZakat, MaxConcurrency: 1, TimeoutMinutes: 60}
	r.execute(context.Background(), job, sched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutePassesForceMetadata(t *testing.T) {
	var sawForce bool
	r, mock := newTestRunner(t, Dispatch{
		store.JobTypeFinance: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			sawForce = opts.Force
			return &syncer.Result{Success: true}, nil
		},
	})

	mock.ExpectQuery(`SELECT cancel_requested`).WillReturnRows(cancelFlagRows(false))
	mock.ExpectExec(`UPDATE jobs SET progress`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows("j5", store.JobTypeFinance, store.StatusCompleted, 5, false))

	job := &store.Job{ID: "j5", JobType: store.JobTypeFinance, Status: store.StatusRunning,
		Metadata: map[string]any{"force": true}}
	sched := &store.JobSchedule{JobType: store.JobTypeFinance, MaxConcurrency: 1, TimeoutMinutes: 60}
	r.execute(context.Background(), job, sched)

	assert.True(t, sawForce)
	assert.NoError(t, mock.ExpectationsWereMet())
}
