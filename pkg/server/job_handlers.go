package server

import (
	"net/http"
	"time"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/jobs"
	"github.com/barakah-labs/minaret/pkg/store"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.JobFilter{
		Status:   q.Get("status"),
		JobType:  q.Get("jobType"),
		Priority: queryInt(r, "priority", 0),
	}
	if v := q.Get("startDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteError(w, errs.Validation("invalid filter", "startDate must be RFC 3339"))
			return
		}
		f.StartDate = &ts
	}
	if v := q.Get("endDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteError(w, errs.Validation("invalid filter", "endDate must be RFC 3339"))
			return
		}
		f.EndDate = &ts
	}

	list, err := s.jobs.List(r.Context(), f, pagination(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, list)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobType  string         `json:"jobType"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	job, err := s.jobs.Trigger(r.Context(), req.JobType, req.Metadata)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job", job.ID,
		map[string]any{"op": "trigger", "jobType": job.JobType})
	api.WriteMessage(w, http.StatusAccepted, "job queued", job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, job)
}

func (s *Server) jobTransition(w http.ResponseWriter, r *http.Request, op string,
	apply func(*http.Request, string) (*store.Job, error)) {
	id := r.PathValue("id")
	job, err := apply(r, id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job", id, map[string]any{"op": op})
	api.WriteMessage(w, http.StatusOK, "job "+job.Status, job)
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, "pause", func(r *http.Request, id string) (*store.Job, error) {
		return s.jobs.Pause(r.Context(), id)
	})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, "resume", func(r *http.Request, id string) (*store.Job, error) {
		return s.jobs.Resume(r.Context(), id)
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, "cancel", func(r *http.Request, id string) (*store.Job, error) {
		return s.jobs.Cancel(r.Context(), id)
	})
}

func (s *Server) handleJobPriority(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Priority int `json:"priority"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	job, err := s.jobs.UpdatePriority(r.Context(), id, req.Priority)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job", id,
		map[string]any{"op": "priority", "priority": req.Priority})
	api.WriteMessage(w, http.StatusOK, "priority updated", job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job", id, map[string]any{"op": "delete"})
	api.WriteMessage(w, http.StatusOK, "job deleted", nil)
}

func (s *Server) handleBulkJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operation string   `json:"operation"`
		JobIDs    []string `json:"jobIds"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	if len(req.JobIDs) == 0 {
		api.WriteError(w, errs.Validation("invalid bulk operation", "jobIds is required"))
		return
	}

	out, err := s.jobs.Bulk(r.Context(), req.Operation, req.JobIDs)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job", "",
		map[string]any{"op": req.Operation, "count": len(req.JobIDs)})
	api.WriteData(w, out)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.get("queue-status"); ok {
		api.WriteData(w, cached)
		return
	}
	q, err := s.jobs.QueueStatus(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.cache.set("queue-status", q)
	api.WriteData(w, q)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.jobs.ListSchedules(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, schedules)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	jobType := r.PathValue("jobType")
	var patch jobs.SchedulePatch
	if err := decode(r, &patch); err != nil {
		api.WriteError(w, err)
		return
	}

	sched, err := s.jobs.UpdateSchedule(r.Context(), jobType, patch)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job_schedule", jobType,
		map[string]any{"op": "update", "cron": sched.CronExpr, "enabled": sched.Enabled})
	api.WriteMessage(w, http.StatusOK, "schedule updated", sched)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	jobType := r.PathValue("jobType")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	if err := s.jobs.ToggleSchedule(r.Context(), jobType, req.Enabled); err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, audit.ActionJobControl, "job_schedule", jobType,
		map[string]any{"op": "toggle", "enabled": req.Enabled})
	api.WriteMessage(w, http.StatusOK, "schedule toggled", nil)
}

// handleCacheClear drops the admission rule snapshot and the server's
// read-through caches.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Invalidate()
	s.cache.clear()
	s.record(r, audit.ActionCacheClear, "cache", "", nil)
	api.WriteMessage(w, http.StatusOK, "caches cleared", nil)
}
