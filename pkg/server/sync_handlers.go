package server

import (
	"net/http"
	"strconv"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/prayer"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
)

// syncModules maps URL module names to job types. gold-price is an alias
// kept for operators used to the finance sync's old name.
var syncModules = map[string]string{
	"quran":      store.JobTypeQuran,
	"prayer":     store.JobTypePrayer,
	"hadith":     store.JobTypeHadith,
	"audio":      store.JobTypeAudio,
	"finance":    store.JobTypeFinance,
	"gold-price": store.JobTypeFinance,
	"zakat":      store.JobTypeZakat,
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.get("summary"); ok {
		api.WriteData(w, cached)
		return
	}

	ctx := r.Context()
	chapters, err := s.st.Quran.CountChapters(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	verses, err := s.st.Quran.CountVerses(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	hadiths, err := s.st.Hadith.CountHadiths(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	reciters, err := s.st.Finance.CountReciters(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	prayerTimes, err := s.st.Prayer.CountTimes(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	userStats, err := s.st.Users.Stats(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	queue, err := s.st.Jobs.QueueStatus(ctx)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	recent, err := s.st.SyncLog.Recent(ctx, 5)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	summary := map[string]any{
		"content": map[string]any{
			"quranChapters": chapters,
			"quranVerses":   verses,
			"hadiths":       hadiths,
			"reciters":      reciters,
			"prayerTimes":   prayerTimes,
		},
		"users":       userStats,
		"queue":       queue,
		"recentSyncs": recent,
	}
	s.cache.set("summary", summary)
	api.WriteData(w, summary)
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	logs, err := s.st.SyncLog.Recent(r.Context(), limit)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, logs)
}

// handleSyncTrigger enqueues a domain sync as a job and returns its id.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	jobType, ok := syncModules[module]
	if !ok {
		api.WriteError(w, errs.Newf(errs.KindValidation,
			"unknown sync module %q", module))
		return
	}

	meta := map[string]any{"module": module}
	if r.URL.Query().Get("force") == "true" {
		meta["force"] = true
	}
	if p := auth.GetPrincipal(r.Context()); p != nil {
		meta["triggeredBy"] = p.Email
	}

	job, err := s.jobs.Trigger(r.Context(), jobType, meta)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionSyncTrigger, "sync", module, map[string]any{"jobId": job.ID})
	api.WriteMessage(w, http.StatusAccepted, module+" sync queued",
		map[string]any{"jobId": job.ID})
}

// handlePrayerPrewarm enqueues the prayer fan-out as a job so it can be
// paused and cancelled through job control.
func (s *Server) handlePrayerPrewarm(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < prayer.MinDays || days > prayer.MaxDays {
		api.WriteError(w, errs.Validation("invalid day span",
			"days must be within [1, 365]"))
		return
	}

	meta := map[string]any{"prewarm": true, "days": days}
	if r.URL.Query().Get("force") == "true" {
		meta["force"] = true
	}
	if p := auth.GetPrincipal(r.Context()); p != nil {
		meta["triggeredBy"] = p.Email
	}

	job, err := s.jobs.Trigger(r.Context(), store.JobTypePrayer, meta)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionSyncTrigger, "sync", "prayer-prewarm",
		map[string]any{"jobId": job.ID, "days": days})
	api.WriteMessage(w, http.StatusAccepted, "prayer prewarm queued",
		map[string]any{"jobId": job.ID, "days": days})
}

// handlePrayerSlice runs one foreground slice of the prayer fan-out and
// returns its sync result.
func (s *Server) handlePrayerSlice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		api.WriteError(w, errs.Validation("invalid prayer slice parameters",
			"lat and lng are required decimal coordinates"))
		return
	}

	sp := prayer.SliceParams{
		Latitude:                 lat,
		Longitude:                lng,
		MethodCode:               q.Get("methodCode"),
		School:                   queryInt(r, "school", 0),
		Days:                     queryInt(r, "days", 7),
		Force:                    q.Get("force") == "true",
		LatitudeAdjustmentMethod: queryInt(r, "latitudeAdjustmentMethod", 0),
		Tune:                     q.Get("tune"),
		Timezone:                 q.Get("timezone"),
		City:                     q.Get("city"),
		Country:                  q.Get("country"),
	}

	res, err := s.planner.SyncOne(r.Context(), sp, syncer.Options{})
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionSyncTrigger, "sync", "prayer-times", map[string]any{
		"locKey": prayer.LocKey(sp.Latitude, sp.Longitude),
		"method": sp.MethodCode,
		"school": sp.School,
		"days":   sp.Days,
	})
	api.WriteData(w, res)
}
