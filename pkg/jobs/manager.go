// Package jobs is the job control plane: a manager exposing the job state
// machine, a cron scheduler that enqueues work for enabled schedules, and a
// runner that executes pending jobs per type under the schedule's
// concurrency cap.
package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

const mutexStripes = 16

// Manager drives the job state machine. Transitions are serialized twice:
// stripe mutexes cover read-modify sequences in process, conditional updates
// cover concurrent mutators across processes.
type Manager struct {
	st      *store.Store
	logger  *slog.Logger
	stripes [mutexStripes]sync.Mutex
}

// NewManager wires a Manager over the store.
func NewManager(st *store.Store) *Manager {
	return &Manager{
		st:     st,
		logger: slog.Default().With("component", "jobs"),
	}
}

func (m *Manager) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &m.stripes[h.Sum32()%mutexStripes]
	mu.Lock()
	return mu.Unlock
}

func validJobType(jobType string) bool {
	for _, jt := range store.JobTypes {
		if jt == jobType {
			return true
		}
	}
	return false
}

// Trigger creates a pending job for the type. The job inherits the
// schedule's priority; the runner holds it pending while the type's
// concurrency cap is saturated.
func (m *Manager) Trigger(ctx context.Context, jobType string, metadata map[string]any) (*store.Job, error) {
	if !validJobType(jobType) {
		return nil, errs.Validation("invalid job type",
			fmt.Sprintf("job type must be one of %v", store.JobTypes))
	}
	sched, err := m.st.Schedules.Get(ctx, jobType)
	if err != nil {
		return nil, err
	}

	job, err := m.st.Jobs.Create(ctx, &store.Job{
		ID:       uuid.NewString(),
		JobName:  jobType + "-sync",
		JobType:  jobType,
		Priority: sched.Priority,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("job triggered", "job_id", job.ID, "job_type", jobType, "priority", job.Priority)
	return job, nil
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*store.Job, error) {
	return m.st.Jobs.Get(ctx, id)
}

// Pause moves a running job to paused.
func (m *Manager) Pause(ctx context.Context, id string) (*store.Job, error) {
	defer m.lock(id)()
	return m.st.Jobs.Transition(ctx, id, []string{store.StatusRunning}, store.StatusPaused)
}

// Resume moves a paused job back to running.
func (m *Manager) Resume(ctx context.Context, id string) (*store.Job, error) {
	defer m.lock(id)()
	return m.st.Jobs.Transition(ctx, id, []string{store.StatusPaused}, store.StatusRunning)
}

// Cancel ends a job. Pending and paused jobs cancel immediately; running
// jobs get the cooperative flag and stay running until the worker observes
// it between records.
func (m *Manager) Cancel(ctx context.Context, id string) (*store.Job, error) {
	defer m.lock(id)()

	job, err := m.st.Jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case store.StatusPending, store.StatusPaused:
		return m.st.Jobs.Transition(ctx, id,
			[]string{store.StatusPending, store.StatusPaused}, store.StatusCancelled)
	case store.StatusRunning:
		if err := m.st.Jobs.RequestCancel(ctx, id); err != nil {
			return nil, err
		}
		m.logger.Info("job cancellation requested", "job_id", id)
		return m.st.Jobs.Get(ctx, id)
	default:
		return nil, errs.Newf(errs.KindConflict, "cannot cancel job in state %s", job.Status)
	}
}

// UpdatePriority changes a job's scheduling priority. Running work is
// unaffected.
func (m *Manager) UpdatePriority(ctx context.Context, id string, priority int) (*store.Job, error) {
	if err := m.st.Jobs.UpdatePriority(ctx, id, priority); err != nil {
		return nil, err
	}
	return m.st.Jobs.Get(ctx, id)
}

// Delete removes a terminal job's live record. Sync history stays in the
// sync job log.
func (m *Manager) Delete(ctx context.Context, id string) error {
	defer m.lock(id)()
	return m.st.Jobs.Delete(ctx, id)
}

// JobList is the paginated listing shape.
type JobList struct {
	Jobs    []*store.Job `json:"jobs"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"hasMore"`
}

// List returns jobs matching the filter in priority order.
func (m *Manager) List(ctx context.Context, f store.JobFilter, p store.Pagination) (*JobList, error) {
	jobs, total, err := m.st.Jobs.List(ctx, f, p)
	if err != nil {
		return nil, err
	}
	p = p.Normalize()
	return &JobList{
		Jobs:    jobs,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(jobs) < total,
	}, nil
}

// BulkOutcome reports one job's result within a bulk operation.
type BulkOutcome struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Bulk applies op to every id, continuing past failures.
func (m *Manager) Bulk(ctx context.Context, op string, ids []string) ([]BulkOutcome, error) {
	var apply func(context.Context, string) error
	switch op {
	case "pause":
		apply = func(ctx context.Context, id string) error { _, err := m.Pause(ctx, id); return err }
	case "resume":
		apply = func(ctx context.Context, id string) error { _, err := m.Resume(ctx, id); return err }
	case "cancel":
		apply = func(ctx context.Context, id string) error { _, err := m.Cancel(ctx, id); return err }
	case "delete":
		apply = m.Delete
	default:
		return nil, errs.Validation("invalid bulk operation",
			"operation must be one of pause, resume, cancel, delete")
	}

	out := make([]BulkOutcome, 0, len(ids))
	for _, id := range ids {
		o := BulkOutcome{JobID: id, Success: true}
		if err := apply(ctx, id); err != nil {
			o.Success = false
			o.Error = err.Error()
		}
		out = append(out, o)
	}
	return out, nil
}

// QueueStatus derives queue counters from live records.
func (m *Manager) QueueStatus(ctx context.Context) (*store.QueueCounters, error) {
	return m.st.Jobs.QueueStatus(ctx)
}

// SchedulePatch carries partial schedule updates; nil fields keep the
// current value.
type SchedulePatch struct {
	Enabled        *bool   `json:"enabled"`
	CronExpr       *string `json:"cronExpression"`
	Priority       *int    `json:"priority"`
	MaxConcurrency *int    `json:"maxConcurrency"`
	TimeoutMinutes *int    `json:"timeoutMinutes"`
	RetryAttempts  *int    `json:"retryAttempts"`
}

// ListSchedules returns every schedule row.
func (m *Manager) ListSchedules(ctx context.Context) ([]*store.JobSchedule, error) {
	return m.st.Schedules.List(ctx)
}

// UpdateSchedule applies a partial update to one job type's schedule.
func (m *Manager) UpdateSchedule(ctx context.Context, jobType string, patch SchedulePatch) (*store.JobSchedule, error) {
	sched, err := m.st.Schedules.Get(ctx, jobType)
	if err != nil {
		return nil, err
	}
	if patch.Enabled != nil {
		sched.Enabled = *patch.Enabled
	}
	if patch.CronExpr != nil {
		sched.CronExpr = *patch.CronExpr
	}
	if patch.Priority != nil {
		sched.Priority = *patch.Priority
	}
	if patch.MaxConcurrency != nil {
		sched.MaxConcurrency = *patch.MaxConcurrency
	}
	if patch.TimeoutMinutes != nil {
		sched.TimeoutMinutes = *patch.TimeoutMinutes
	}
	if patch.RetryAttempts != nil {
		sched.RetryAttempts = *patch.RetryAttempts
	}
	if err := ValidateCron(sched.CronExpr); err != nil {
		return nil, err
	}
	if err := m.st.Schedules.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// ToggleSchedule flips a schedule's enabled flag.
func (m *Manager) ToggleSchedule(ctx context.Context, jobType string, enabled bool) error {
	return m.st.Schedules.Toggle(ctx, jobType, enabled)
}

// ValidateCron checks a standard 5-field cron expression. Empty means
// manual-only and is allowed.
func ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return errs.Validation("invalid cron expression", err.Error())
	}
	return nil
}
