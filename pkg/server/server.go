// Package server is the admin HTTP surface: auth, user management, sync
// triggers, monitoring, and job control, all behind the admission pipeline
// and token middleware.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/barakah-labs/minaret/pkg/admission"
	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/config"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/jobs"
	"github.com/barakah-labs/minaret/pkg/prayer"
	"github.com/barakah-labs/minaret/pkg/store"
)

// Prefix is the versioned admin route prefix.
const Prefix = "/api/v1/admin"

const maxBodyBytes = 1 << 20

// Deps are the server's collaborators.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Pipeline *admission.Pipeline
	Tokens   *auth.TokenService
	Auth     *auth.Service
	Recorder *audit.Recorder
	Jobs     *jobs.Manager
	Planner  *prayer.Planner
}

// Server holds the admin handlers.
type Server struct {
	cfg      *config.Config
	st       *store.Store
	pipeline *admission.Pipeline
	tokens   *auth.TokenService
	auth     *auth.Service
	recorder *audit.Recorder
	jobs     *jobs.Manager
	planner  *prayer.Planner
	cache    *ttlCache
	logger   *slog.Logger
}

// New wires a Server.
func New(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		st:       d.Store,
		pipeline: d.Pipeline,
		tokens:   d.Tokens,
		auth:     d.Auth,
		recorder: d.Recorder,
		jobs:     d.Jobs,
		planner:  d.Planner,
		cache:    newTTLCache(30 * time.Second),
		logger:   slog.Default().With("component", "server"),
	}
}

// Handler builds the route table and wraps it in the middleware chain:
// request id, CORS, admission pipeline, then token auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST "+Prefix+"/auth/login", s.handleLogin)
	mux.HandleFunc("POST "+Prefix+"/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST "+Prefix+"/auth/change-password", s.handleChangePassword)
	mux.HandleFunc("GET "+Prefix+"/auth/password-requirements", s.handlePasswordRequirements)

	mux.HandleFunc("GET "+Prefix+"/users",
		auth.RequirePermission(auth.PermReadUsers, s.handleListUsers))
	mux.HandleFunc("POST "+Prefix+"/users",
		auth.RequirePermission(auth.PermCreateUsers, s.handleCreateUser))
	mux.HandleFunc("GET "+Prefix+"/users/stats",
		auth.RequirePermission(auth.PermReadStats, s.handleUserStats))
	mux.HandleFunc("GET "+Prefix+"/users/audit",
		auth.RequirePermission(auth.PermReadUsers, s.handleAuditLog))
	mux.HandleFunc("GET "+Prefix+"/users/{id}",
		auth.RequirePermission(auth.PermReadUsers, s.handleGetUser))
	mux.HandleFunc("PUT "+Prefix+"/users/{id}",
		auth.RequirePermission(auth.PermUpdateUsers, s.handleUpdateUser))
	mux.HandleFunc("DELETE "+Prefix+"/users/{id}",
		auth.RequirePermission(auth.PermDeleteUsers, s.handleDeleteUser))
	mux.HandleFunc("POST "+Prefix+"/users/{id}/reset-password",
		auth.RequirePermission(auth.PermUpdateUsers, s.handleResetPassword))

	mux.HandleFunc("GET "+Prefix+"/summary",
		auth.RequirePermission(auth.PermReadStats, s.handleSummary))
	mux.HandleFunc("GET "+Prefix+"/sync-logs",
		auth.RequirePermission(auth.PermReadSync, s.handleSyncLogs))

	mux.HandleFunc("POST "+Prefix+"/sync/prayer/prewarm",
		auth.RequirePermission(auth.PermTriggerSync, s.handlePrayerPrewarm))
	mux.HandleFunc("POST "+Prefix+"/sync/prayer/times",
		auth.RequirePermission(auth.PermTriggerSync, s.handlePrayerSlice))
	mux.HandleFunc("POST "+Prefix+"/sync/{module}",
		auth.RequirePermission(auth.PermTriggerSync, s.handleSyncTrigger))

	mux.HandleFunc("GET "+Prefix+"/monitoring/api/rate-limits",
		auth.RequirePermission(auth.PermReadStats, s.handleListRateLimits))
	mux.HandleFunc("POST "+Prefix+"/monitoring/api/rate-limits",
		auth.RequirePermission(auth.PermManageRules, s.handleCreateRateLimit))
	mux.HandleFunc("PUT "+Prefix+"/monitoring/api/rate-limits/{id}",
		auth.RequirePermission(auth.PermManageRules, s.handleUpdateRateLimit))
	mux.HandleFunc("DELETE "+Prefix+"/monitoring/api/rate-limits/{id}",
		auth.RequirePermission(auth.PermManageRules, s.handleDeleteRateLimit))

	mux.HandleFunc("GET "+Prefix+"/monitoring/api/ip-blocking",
		auth.RequirePermission(auth.PermReadStats, s.handleListIPBlocks))
	mux.HandleFunc("POST "+Prefix+"/monitoring/api/ip-blocking",
		auth.RequirePermission(auth.PermManageRules, s.handleBlockIP))
	mux.HandleFunc("DELETE "+Prefix+"/monitoring/api/ip-blocking/{ip}",
		auth.RequirePermission(auth.PermManageRules, s.handleUnblockIP))

	mux.HandleFunc("GET "+Prefix+"/monitoring/api/analytics",
		auth.RequirePermission(auth.PermReadStats, s.handleAnalytics))

	mux.HandleFunc("GET "+Prefix+"/job-control",
		auth.RequirePermission(auth.PermManageJobs, s.handleListJobs))
	mux.HandleFunc("POST "+Prefix+"/job-control",
		auth.RequirePermission(auth.PermManageJobs, s.handleTriggerJob))
	mux.HandleFunc("GET "+Prefix+"/job-control/queue-status",
		auth.RequirePermission(auth.PermManageJobs, s.handleQueueStatus))
	mux.HandleFunc("GET "+Prefix+"/job-control/schedules",
		auth.RequirePermission(auth.PermManageJobs, s.handleListSchedules))
	mux.HandleFunc("PUT "+Prefix+"/job-control/schedules/{jobType}",
		auth.RequirePermission(auth.PermManageJobs, s.handleUpdateSchedule))
	mux.HandleFunc("POST "+Prefix+"/job-control/schedules/{jobType}/toggle",
		auth.RequirePermission(auth.PermManageJobs, s.handleToggleSchedule))
	mux.HandleFunc("POST "+Prefix+"/job-control/bulk",
		auth.RequirePermission(auth.PermManageJobs, s.handleBulkJobs))
	mux.HandleFunc("GET "+Prefix+"/job-control/{id}",
		auth.RequirePermission(auth.PermManageJobs, s.handleGetJob))
	mux.HandleFunc("POST "+Prefix+"/job-control/{id}/pause",
		auth.RequirePermission(auth.PermManageJobs, s.handlePauseJob))
	mux.HandleFunc("POST "+Prefix+"/job-control/{id}/resume",
		auth.RequirePermission(auth.PermManageJobs, s.handleResumeJob))
	mux.HandleFunc("POST "+Prefix+"/job-control/{id}/cancel",
		auth.RequirePermission(auth.PermManageJobs, s.handleCancelJob))
	mux.HandleFunc("PUT "+Prefix+"/job-control/{id}/priority",
		auth.RequirePermission(auth.PermManageJobs, s.handleJobPriority))
	mux.HandleFunc("DELETE "+Prefix+"/job-control/{id}",
		auth.RequirePermission(auth.PermManageJobs, s.handleDeleteJob))

	mux.HandleFunc("POST "+Prefix+"/cache/clear",
		auth.RequirePermission(auth.PermClearCache, s.handleCacheClear))

	var h http.Handler = mux
	h = auth.Middleware(s.tokens, s.st.Users,
		Prefix+"/auth/login",
		Prefix+"/auth/refresh",
		Prefix+"/auth/password-requirements",
		"/health",
	)(h)
	h = s.pipeline.Middleware(h)
	h = api.CORSMiddleware(s.cfg.AllowedOrigins)(h)
	h = api.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, map[string]any{"status": "ok", "service": s.cfg.ServiceName})
}

// decode reads a bounded JSON body into dst.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errs.New(errs.KindValidation, "unreadable request body")
	}
	if len(body) == 0 {
		return errs.New(errs.KindValidation, "request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errs.New(errs.KindValidation, "malformed JSON body")
	}
	return nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, errs.Newf(errs.KindValidation, "invalid %s", name)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pagination(r *http.Request) store.Pagination {
	return store.Pagination{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{IP: admission.ClientIP(r), UserAgent: r.UserAgent()}
}

// record writes an audit entry for a mutating operation performed by the
// authenticated caller.
func (s *Server) record(r *http.Request, action, resource, resourceID string, details map[string]any) {
	var userID *int64
	if p := auth.GetPrincipal(r.Context()); p != nil {
		userID = &p.UserID
	}
	s.recorder.Record(r.Context(), audit.Event{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         admission.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
}
