package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/barakah-labs/minaret/pkg/store"
)

// DefaultRefreshInterval is how often the scheduler re-reads schedule rows
// so edits take effect without a restart.
const DefaultRefreshInterval = time.Minute

// Scheduler registers one cron entry per enabled schedule and triggers a
// pending job whenever an entry fires.
type Scheduler struct {
	st       *store.Store
	mgr      *Manager
	cron     *cron.Cron
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries map[string]scheduleEntry
	cancel  context.CancelFunc
	done    chan struct{}
}

type scheduleEntry struct {
	id   cron.EntryID
	expr string
}

// NewScheduler wires a Scheduler. Entries use the standard 5-field cron
// syntax.
func NewScheduler(st *store.Store, mgr *Manager) *Scheduler {
	return &Scheduler{
		st:       st,
		mgr:      mgr,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "scheduler"),
		interval: DefaultRefreshInterval,
		entries:  make(map[string]scheduleEntry),
	}
}

// Start loads schedules, starts the cron loop, and keeps entries in sync
// with the schedule table until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.cron.Start()

	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(rctx); err != nil {
					s.logger.Warn("schedule refresh failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop halts the cron loop and waits for a running fire to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	<-s.cron.Stop().Done()
}

// Refresh reconciles cron entries with the schedule table: enabled rows with
// a cron expression get an entry, everything else is removed.
func (s *Scheduler) Refresh(ctx context.Context) error {
	schedules, err := s.st.Schedules.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]string)
	for _, sched := range schedules {
		if sched.Enabled && sched.CronExpr != "" {
			want[sched.JobType] = sched.CronExpr
		}
	}

	for jobType, entry := range s.entries {
		if want[jobType] != entry.expr {
			s.cron.Remove(entry.id)
			delete(s.entries, jobType)
		}
	}

	for jobType, expr := range want {
		if _, ok := s.entries[jobType]; ok {
			continue
		}
		jt := jobType
		id, err := s.cron.AddFunc(expr, func() { s.fire(jt) })
		if err != nil {
			s.logger.Warn("skipping schedule with bad cron expression",
				"job_type", jobType, "cron", expr, "error", err)
			continue
		}
		s.entries[jobType] = scheduleEntry{id: id, expr: expr}
		s.logger.Info("schedule registered", "job_type", jobType, "cron", expr)
	}
	return nil
}

// fire enqueues one job for the type. A saturated concurrency cap is fine;
// the job waits pending until the runner frees a slot.
func (s *Scheduler) fire(jobType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := s.mgr.Trigger(ctx, jobType, map[string]any{"source": "scheduler"})
	if err != nil {
		s.logger.Error("scheduled trigger failed", "job_type", jobType, "error", err)
		return
	}
	s.logger.Info("scheduled job enqueued", "job_type", jobType, "job_id", job.ID)
}
