// Package syncer pulls upstream content into the local tables. Every domain
// follows the same shape: gate on the last completed run, fetch, map with
// per-record error collection, upsert by natural key, write a sync job log
// row with aggregate counts.
package syncer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/barakah-labs/minaret/pkg/observability"
	"github.com/barakah-labs/minaret/pkg/store"
)

// maxErrorText bounds the concatenated error text persisted per run.
const maxErrorText = 4096

// DefaultGate is the last-sync gating interval when none is configured.
const DefaultGate = 24 * time.Hour

// DateRange restricts date-driven syncs (prayer times, gold prices).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Options tune a single sync call.
type Options struct {
	// Force skips the last-sync gate.
	Force bool
	// DryRun counts records without writing anything.
	DryRun bool
	// DateRange applies to date-driven resources only.
	DateRange *DateRange
	// CancelRequested is polled between records; nil means never cancelled.
	CancelRequested func(ctx context.Context) bool
	// Progress receives coarse completion percentages when set.
	Progress func(ctx context.Context, percent int)
}

// Result is the outcome of one sync call.
type Result struct {
	Success          bool     `json:"success"`
	Resource         string   `json:"resource"`
	RecordsProcessed int      `json:"recordsProcessed"`
	RecordsInserted  int      `json:"recordsInserted"`
	RecordsUpdated   int      `json:"recordsUpdated"`
	RecordsFailed    int      `json:"recordsFailed"`
	Errors           []string `json:"errors,omitempty"`
	DurationMs       int64    `json:"durationMs"`
	// Skipped is set when the gate short-circuited the run.
	Skipped bool `json:"skipped,omitempty"`
}

// Run accumulates counters for one sync call. It is safe for concurrent use;
// the prayer fan-out updates it from several workers.
type Run struct {
	opts Options

	mu        sync.Mutex
	processed int
	inserted  int
	updated   int
	failed    int
	errors    []string
	partial   bool
	cancelled bool
}

// DryRun reports whether writes should be skipped.
func (r *Run) DryRun() bool { return r.opts.DryRun }

// Range returns the requested date range, or nil.
func (r *Run) Range() *DateRange { return r.opts.DateRange }

// Record counts one upserted record.
func (r *Run) Record(outcome store.UpsertOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	if outcome.Inserted {
		r.inserted++
	} else {
		r.updated++
	}
}

// Processed counts records handled without upsert outcome attribution
// (dry runs and bulk writes).
func (r *Run) Processed(n int) {
	r.mu.Lock()
	r.processed += n
	r.mu.Unlock()
}

// AddInserted attributes bulk-written records measured by table-count delta.
func (r *Run) AddInserted(n int) {
	r.mu.Lock()
	r.inserted += n
	r.mu.Unlock()
}

// AddUpdated attributes the remainder of a bulk write.
func (r *Run) AddUpdated(n int) {
	r.mu.Lock()
	r.updated += n
	r.mu.Unlock()
}

// Fail records one failed record with its error.
func (r *Run) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.errors = append(r.errors, err.Error())
}

// FailN records n failed records sharing one error (a failed bulk chunk).
func (r *Run) FailN(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed += n
	r.errors = append(r.errors, err.Error())
}

// MarkPartial forces a partial status even with zero failed records; used by
// the translation fallback path.
func (r *Run) MarkPartial() {
	r.mu.Lock()
	r.partial = true
	r.mu.Unlock()
}

// Cancelled polls the cancellation hook. Syncers call it between records,
// never mid-record.
func (r *Run) Cancelled(ctx context.Context) bool {
	if r.cancelledFlag() {
		return true
	}
	if ctx.Err() != nil || (r.opts.CancelRequested != nil && r.opts.CancelRequested(ctx)) {
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		return true
	}
	return false
}

func (r *Run) cancelledFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// ReportProgress forwards a completion percentage to the caller's hook.
func (r *Run) ReportProgress(ctx context.Context, percent int) {
	if r.opts.Progress != nil {
		r.opts.Progress(ctx, percent)
	}
}

// Engine owns gating and job-log bookkeeping shared by all domain syncers.
type Engine struct {
	st     *store.Store
	obs    *observability.Provider
	gate   time.Duration
	logger *slog.Logger
}

// NewEngine creates an engine. obs may be nil. A non-positive gate falls
// back to DefaultGate.
func NewEngine(st *store.Store, obs *observability.Provider, gate time.Duration) *Engine {
	if gate <= 0 {
		gate = DefaultGate
	}
	return &Engine{
		st:     st,
		obs:    obs,
		gate:   gate,
		logger: slog.Default().With("component", "syncer"),
	}
}

// Execute runs body inside the standard sync lifecycle and returns its
// aggregate result. Engine-level failures (body returning an error) yield a
// failed result, not a Go error; errors are reserved for infrastructure
// faults before the run starts.
func (e *Engine) Execute(ctx context.Context, jobName, resource string, opts Options, body func(ctx context.Context, run *Run) error) (*Result, error) {
	if !opts.Force {
		last, err := e.st.SyncLog.LastCompleted(ctx, jobName, resource)
		if err != nil {
			return nil, err
		}
		if last != nil && time.Since(last.StartedAt) < e.gate {
			e.logger.Info("sync gated", "job", jobName, "resource", resource,
				"last_started_at", last.StartedAt)
			return &Result{Success: true, Resource: resource, Skipped: true}, nil
		}
	}

	logID, err := e.st.SyncLog.Start(ctx, jobName, resource)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	run := &Run{opts: opts}
	bodyErr := body(ctx, run)
	duration := time.Since(start)

	run.mu.Lock()
	res := &Result{
		Resource:         resource,
		RecordsProcessed: run.processed,
		RecordsInserted:  run.inserted,
		RecordsUpdated:   run.updated,
		RecordsFailed:    run.failed,
		Errors:           append([]string(nil), run.errors...),
		DurationMs:       duration.Milliseconds(),
	}
	partial, cancelled := run.partial, run.cancelled
	run.mu.Unlock()

	var status string
	switch {
	case bodyErr != nil:
		if res.RecordsFailed == 0 {
			res.RecordsFailed = 1
		}
		res.Errors = append(res.Errors, bodyErr.Error())
		status = store.StatusFailed
	case cancelled:
		status = store.StatusCancelled
	case res.RecordsFailed == 0 && !partial:
		status = store.StatusSuccess
		res.Success = true
	case res.RecordsFailed < res.RecordsProcessed || (partial && res.RecordsFailed == 0):
		status = store.StatusPartial
		res.Success = true
	default:
		status = store.StatusFailed
	}

	errText := truncateErrors(res.Errors)
	if err := e.st.SyncLog.Finish(ctx, logID, status, errText,
		res.RecordsProcessed, res.RecordsFailed, duration); err != nil {
		e.logger.Warn("sync log finish failed", "job", jobName, "resource", resource, "error", err)
	}
	if e.obs != nil {
		e.obs.RecordSync(ctx, jobName, resource, res.RecordsProcessed, res.RecordsFailed)
	}

	e.logger.Info("sync finished",
		"job", jobName, "resource", resource, "status", status,
		"processed", res.RecordsProcessed, "inserted", res.RecordsInserted,
		"updated", res.RecordsUpdated, "failed", res.RecordsFailed,
		"duration_ms", res.DurationMs)
	return res, nil
}

// truncateErrors joins error strings, bounding the persisted text.
func truncateErrors(errors []string) string {
	if len(errors) == 0 {
		return ""
	}
	joined := strings.Join(errors, "; ")
	if len(joined) > maxErrorText {
		joined = joined[:maxErrorText]
	}
	return joined
}
