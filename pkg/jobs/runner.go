package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/barakah-labs/minaret/pkg/observability"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
)

// DefaultPollInterval is how often each type's worker checks for pending
// work.
const DefaultPollInterval = 2 * time.Second

// SyncFunc executes one job's sync body. The job carries trigger metadata
// such as force or day-span overrides.
type SyncFunc func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error)

// Dispatch maps job types to their sync bodies.
type Dispatch map[string]SyncFunc

// Runner picks pending jobs per type in priority order and executes them
// under the schedule's concurrency cap and timeout.
type Runner struct {
	st       *store.Store
	obs      *observability.Provider
	dispatch Dispatch
	logger   *slog.Logger
	poll     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires a Runner over the dispatch table. obs may be nil.
func NewRunner(st *store.Store, obs *observability.Provider, dispatch Dispatch) *Runner {
	return &Runner{
		st:       st,
		obs:      obs,
		dispatch: dispatch,
		logger:   slog.Default().With("component", "runner"),
		poll:     DefaultPollInterval,
	}
}

// Start launches one worker loop per dispatchable job type.
func (r *Runner) Start(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for jobType := range r.dispatch {
		r.wg.Add(1)
		go func(jt string) {
			defer r.wg.Done()
			ticker := time.NewTicker(r.poll)
			defer ticker.Stop()
			for {
				select {
				case <-rctx.Done():
					return
				case <-ticker.C:
					// Drain the backlog before sleeping again.
					for r.runOnce(rctx, jt) {
						if rctx.Err() != nil {
							return
						}
					}
				}
			}
		}(jobType)
	}
}

// Stop halts the worker loops and waits for in-flight jobs to finish or be
// cut off by their timeout contexts.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// runOnce claims and executes at most one pending job of the type. Returns
// whether a job ran.
func (r *Runner) runOnce(ctx context.Context, jobType string) bool {
	sched, err := r.st.Schedules.Get(ctx, jobType)
	if err != nil {
		r.logger.Warn("schedule lookup failed", "job_type", jobType, "error", err)
		return false
	}

	running, err := r.st.Jobs.CountByTypeAndStatus(ctx, jobType, store.StatusRunning)
	if err != nil {
		r.logger.Warn("concurrency check failed", "job_type", jobType, "error", err)
		return false
	}
	if running >= sched.MaxConcurrency {
		return false
	}

	job, err := r.st.Jobs.NextPending(ctx, jobType)
	if err != nil {
		r.logger.Warn("pending lookup failed", "job_type", jobType, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	claimed, err := r.st.Jobs.Transition(ctx, job.ID,
		[]string{store.StatusPending}, store.StatusRunning)
	if err != nil {
		// Another worker claimed it, or it was cancelled while pending.
		return false
	}

	r.execute(ctx, claimed, sched)
	return true
}

// execute runs a claimed job to a terminal state.
func (r *Runner) execute(ctx context.Context, job *store.Job, sched *store.JobSchedule) {
	fn, ok := r.dispatch[job.JobType]
	if !ok {
		_, _ = r.st.Jobs.Fail(ctx, job.ID, "no sync body for job type "+job.JobType)
		return
	}

	if r.obs != nil {
		r.obs.JobStarted(ctx, job.JobType)
		defer r.obs.JobFinished(ctx, job.JobType)
	}

	jctx, cancel := context.WithTimeout(ctx, time.Duration(sched.TimeoutMinutes)*time.Minute)
	defer cancel()

	opts := syncer.Options{
		Force: metaBool(job.Metadata, "force"),
		CancelRequested: func(ctx context.Context) bool {
			flag, err := r.st.Jobs.CancelRequested(ctx, job.ID)
			return err == nil && flag
		},
		Progress: func(ctx context.Context, percent int) {
			_ = r.st.Jobs.UpdateProgress(ctx, job.ID, percent, nil)
		},
	}

	var res *syncer.Result
	var err error
	for attempt := 0; attempt <= sched.RetryAttempts; attempt++ {
		if attempt > 0 {
			r.logger.Info("retrying job", "job_id", job.ID, "attempt", attempt)
		}
		res, err = fn(jctx, job, opts)

		if errors.Is(jctx.Err(), context.DeadlineExceeded) {
			_ = r.st.Jobs.RequestCancel(ctx, job.ID)
			_, _ = r.st.Jobs.Fail(ctx, job.ID, "timeout")
			r.logger.Error("job timed out", "job_id", job.ID,
				"timeout_minutes", sched.TimeoutMinutes)
			return
		}
		if cancelled, cerr := r.st.Jobs.CancelRequested(ctx, job.ID); cerr == nil && cancelled {
			_, _ = r.st.Jobs.Transition(ctx, job.ID,
				[]string{store.StatusRunning, store.StatusPaused}, store.StatusCancelled)
			r.logger.Info("job cancelled", "job_id", job.ID)
			return
		}
		if err == nil && res != nil && res.Success {
			r.complete(ctx, job, res)
			return
		}
	}

	_, _ = r.st.Jobs.Fail(ctx, job.ID, failureText(res, err))
	r.logger.Error("job failed", "job_id", job.ID, "job_type", job.JobType,
		"error", failureText(res, err))
}

func (r *Runner) complete(ctx context.Context, job *store.Job, res *syncer.Result) {
	summary := map[string]any{
		"recordsProcessed": res.RecordsProcessed,
		"recordsInserted":  res.RecordsInserted,
		"recordsUpdated":   res.RecordsUpdated,
		"recordsFailed":    res.RecordsFailed,
		"durationMs":       res.DurationMs,
	}
	_ = r.st.Jobs.UpdateProgress(ctx, job.ID, 100, summary)
	_, _ = r.st.Jobs.Transition(ctx, job.ID,
		[]string{store.StatusRunning, store.StatusPaused}, store.StatusCompleted)
	r.logger.Info("job completed", "job_id", job.ID, "job_type", job.JobType,
		"processed", res.RecordsProcessed, "failed", res.RecordsFailed)
}

func failureText(res *syncer.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res != nil && len(res.Errors) > 0 {
		return strings.Join(res.Errors, "; ")
	}
	return "sync did not succeed"
}

func metaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	b, _ := meta[key].(bool)
	return b
}
