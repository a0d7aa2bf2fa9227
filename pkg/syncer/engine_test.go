package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewEngine(store.New(db), nil, time.Hour), mock
}

func expectStart(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`INSERT INTO sync_job_log`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
}

func expectFinish(mock sqlmock.Sqlmock, status string) {
	mock.ExpectExec(`UPDATE sync_job_log`).
		WithArgs(int64(7), status, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestExecuteGatesRecentRun(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{
		"id", "job_name", "resource", "started_at", "finished_at", "status",
		"error_text", "duration_ms", "records_processed", "records_failed",
	}).AddRow(int64(1), "quran", "quran", time.Now().Add(-10*time.Minute), time.Now(),
		store.StatusSuccess, "", int64(100), 114, 0)
	mock.ExpectQuery(`FROM sync_job_log`).WillReturnRows(rows)

	ran := false
	res, err := e.Execute(context.Background(), "quran", "quran", Options{},
		func(ctx context.Context, run *Run) error { ran = true; return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.True(t, res.Skipped)
	assert.True(t, res.Success)
	assert.Zero(t, res.RecordsProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteForceSkipsGate(t *testing.T) {
	e, mock := newTestEngine(t)
	expectStart(mock)
	expectFinish(mock, store.StatusSuccess)

	res, err := e.Execute(context.Background(), "quran", "quran", Options{Force: true},
		func(ctx context.Context, run *Run) error {
			run.Record(store.UpsertOutcome{Inserted: true})
			run.Record(store.UpsertOutcome{Inserted: false})
			return nil
		})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.RecordsProcessed)
	assert.Equal(t, 1, res.RecordsInserted)
	assert.Equal(t, 1, res.RecordsUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteStatusClassification(t *testing.T) {
	cases := []struct {
		name        string
		body        func(ctx context.Context, run *Run) error
		wantStatus  string
		wantSuccess bool
		wantFailed  int
	}{
		{
			name: "all records fail",
			body: func(ctx context.Context, run *Run) error {
				run.Fail(errors.New("boom"))
				run.Fail(errors.New("boom"))
				return nil
			},
			wantStatus: store.StatusFailed,
			wantFailed: 2,
		},
		{
			name: "some records fail",
			body: func(ctx context.Context, run *Run) error {
				run.Record(store.UpsertOutcome{Inserted: true})
				run.Record(store.UpsertOutcome{Inserted: true})
				run.Fail(errors.New("boom"))
				return nil
			},
			wantStatus:  store.StatusPartial,
			wantSuccess: true,
			wantFailed:  1,
		},
		{
			name: "engine failure",
			body: func(ctx context.Context, run *Run) error {
				return errors.New("upstream exploded")
			},
			wantStatus: store.StatusFailed,
			wantFailed: 1,
		},
		{
			name: "fallback marks partial without failures",
			body: func(ctx context.Context, run *Run) error {
				run.Record(store.UpsertOutcome{Inserted: true})
				run.MarkPartial()
				return nil
			},
			wantStatus:  store.StatusPartial,
			wantSuccess: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, mock := newTestEngine(t)
			expectStart(mock)
			expectFinish(mock, tc.wantStatus)

			res, err := e.Execute(context.Background(), "quran", "quran",
				Options{Force: true}, tc.body)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSuccess, res.Success)
			assert.Equal(t, tc.wantFailed, res.RecordsFailed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	e, mock := newTestEngine(t)
	expectStart(mock)
	expectFinish(mock, store.StatusCancelled)

	cancelAfter := 2
	seen := 0
	opts := Options{
		Force: true,
		CancelRequested: func(ctx context.Context) bool {
			seen++
			return seen > cancelAfter
		},
	}
	res, err := e.Execute(context.Background(), "hadith", "hadith", opts,
		func(ctx context.Context, run *Run) error {
			for i := 0; i < 100; i++ {
				if run.Cancelled(ctx) {
					return nil
				}
				run.Record(store.UpsertOutcome{Inserted: true})
			}
			return nil
		})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, cancelAfter, res.RecordsProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateErrors(t *testing.T) {
	assert.Empty(t, truncateErrors(nil))

	long := strings.Repeat("x", 3000)
	joined := truncateErrors([]string{long, long})
	assert.Len(t, joined, maxErrorText)
}

func TestDryRunCountsWithoutOutcomes(t *testing.T) {
	e, mock := newTestEngine(t)
	expectStart(mock)
	expectFinish(mock, store.StatusSuccess)

	res, err := e.Execute(context.Background(), "audio", "reciters",
		Options{Force: true, DryRun: true},
		func(ctx context.Context, run *Run) error {
			require.True(t, run.DryRun())
			run.Processed(5)
			return nil
		})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.RecordsProcessed)
	assert.Zero(t, res.RecordsInserted)
	assert.Zero(t, res.RecordsUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
