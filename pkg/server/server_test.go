package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/admission"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/config"
	"github.com/barakah-labs/minaret/pkg/jobs"
	"github.com/barakah-labs/minaret/pkg/prayer"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

type testHarness struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	tokens  *auth.TokenService
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.New(db)
	pipeline := admission.New(st, admission.NewMemoryCounterStore(), nil)
	t.Cleanup(pipeline.Close)

	tokens := auth.NewTokenService("test-secret")
	recorder := audit.NewRecorder(st)
	engine := syncer.NewEngine(st, nil, time.Hour)
	planner := prayer.NewPlanner(engine, st, upstream.New("aladhan"),
		prayer.Config{BaseURL: "http://aladhan.test/v1"})

	srv := New(Deps{
		Config:   &config.Config{ServiceName: "minaret-test", AllowedOrigins: []string{"*"}},
		Store:    st,
		Pipeline: pipeline,
		Tokens:   tokens,
		Auth:     auth.NewService(st, tokens, recorder),
		Recorder: recorder,
		Jobs:     jobs.NewManager(st),
		Planner:  planner,
	})
	return &testHarness{handler: srv.Handler(), mock: mock, tokens: tokens}
}

func emptyRuleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "endpoint_pattern", "method", "limit_count", "window_seconds",
		"enabled", "created_at", "updated_at",
	})
}

func emptyBlockRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "ip", "reason", "blocked_by", "blocked_at", "expires_at", "enabled",
	})
}

// expectSnapshot serves the admission cache's first refresh.
func (h *testHarness) expectSnapshot(rules, blocks *sqlmock.Rows) {
	h.mock.ExpectQuery(`FROM rate_limit_rules`).WillReturnRows(rules)
	h.mock.ExpectQuery(`FROM ip_block_rules`).WillReturnRows(blocks)
}

func adminUserRows(id int64, email, role string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "first_name", "last_name", "role",
		"permissions", "active", "refresh_jti", "last_login_at", "created_at", "updated_at",
	}).AddRow(id, email, "$2a$12$invalidhashinvalidhashinvalidhashinvalidhashinvalidha",
		"", "", role, "{}", active, "", nil, time.Now(), time.Now())
}

func (h *testHarness) accessToken(t *testing.T, id int64, email, role string) string {
	t.Helper()
	pair, err := h.tokens.IssuePair(&store.AdminUser{ID: id, Email: email, Role: role})
	require.NoError(t, err)
	return pair.AccessToken
}

func (h *testHarness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestPasswordRequirementsArePublic(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())

	rec := h.do(httptest.NewRequest(http.MethodGet, Prefix+"/auth/password-requirements", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "between 8 and 128 characters")
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())

	rec := h.do(httptest.NewRequest(http.MethodGet, Prefix+"/summary", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	// User lookup misses; the failed attempt is still audited.
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	h.mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/auth/login",
		strings.NewReader(`{"email":"ghost@example.test","password":"StrongPass1!"}`))
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email or password")
}

func TestViewerCannotTriggerSync(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(9, "viewer@example.test", store.RoleViewer, true))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/sync/quran", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 9, "viewer@example.test", store.RoleViewer))
	rec := h.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSyncTriggerQueuesJob(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))
	h.mock.ExpectQuery(`FROM job_schedules`).
		WillReturnRows(sqlmock.NewRows([]string{
			"job_type", "enabled", "cron_expr", "priority", "max_concurrency",
			"timeout_minutes", "retry_attempts", "updated_at",
		}).AddRow(store.JobTypeQuran, true, "0 2 * * *", 5, 1, 60, 0, time.Now()))
	h.mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_name", "job_type", "status", "progress", "priority", "cancel_requested",
			"error_text", "metadata", "started_at", "completed_at", "created_at", "updated_at",
		}).AddRow("job-1", "quran-sync", store.JobTypeQuran, store.StatusPending, 0, 5, false,
			"", []byte(`{}`), nil, nil, time.Now(), time.Now()))
	h.mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/sync/quran", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 1, "admin@example.test", store.RoleSuperAdmin))
	rec := h.do(req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"jobId":"job-1"`)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSyncTriggerRejectsUnknownModule(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/sync/bitcoin", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 1, "admin@example.test", store.RoleSuperAdmin))
	rec := h.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrewarmValidatesDays(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))

	token := h.accessToken(t, 1, "admin@example.test", store.RoleSuperAdmin)
	for _, days := range []int{0, 366} {
		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("%s/sync/prayer/prewarm?days=%d", Prefix, days), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := h.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%d", days)
	}
}

func TestPrayerSliceRequiresCoordinates(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/sync/prayer/times?methodCode=MWL", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 1, "admin@example.test", store.RoleSuperAdmin))
	rec := h.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitCountsDownAndRejects(t *testing.T) {
	h := newTestHarness(t)

	rules := sqlmock.NewRows([]string{
		"id", "endpoint_pattern", "method", "limit_count", "window_seconds",
		"enabled", "created_at", "updated_at",
	}).AddRow(int64(1), "/health", "GET", 3, 60, true, time.Now(), time.Now())
	h.expectSnapshot(rules, emptyBlockRows())

	for i, wantRemaining := range []string{"2", "1", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		rec := h.do(req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, wantRemaining, rec.Header().Get("X-RateLimit-Remaining"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	rec := h.do(req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// A different client still has budget.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec = h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPBlockPrecedesRateLimit(t *testing.T) {
	h := newTestHarness(t)

	rules := sqlmock.NewRows([]string{
		"id", "endpoint_pattern", "method", "limit_count", "window_seconds",
		"enabled", "created_at", "updated_at",
	}).AddRow(int64(1), "/health", "GET", 3, 60, true, time.Now(), time.Now())
	blocks := sqlmock.NewRows([]string{
		"id", "ip", "reason", "blocked_by", "blocked_at", "expires_at", "enabled",
	}).AddRow(int64(1), "203.0.113.7", "abuse", "admin@example.test", time.Now(), nil, true)
	h.expectSnapshot(rules, blocks)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := h.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ip address is blocked")
	// Blocked requests never consume rate-limit budget.
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestCacheClearRequiresPermission(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(9, "viewer@example.test", store.RoleViewer, true))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/cache/clear", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 9, "viewer@example.test", store.RoleViewer))
	rec := h.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCacheClear(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(1, "admin@example.test", store.RoleSuperAdmin, true))
	h.mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, Prefix+"/cache/clear", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 1, "admin@example.test", store.RoleSuperAdmin))
	rec := h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "caches cleared")
}

func TestDisabledUserIsRejectedDespiteValidToken(t *testing.T) {
	h := newTestHarness(t)
	h.expectSnapshot(emptyRuleRows(), emptyBlockRows())
	h.mock.ExpectQuery(`FROM admin_users`).
		WillReturnRows(adminUserRows(4, "gone@example.test", store.RoleAdmin, false))

	req := httptest.NewRequest(http.MethodGet, Prefix+"/summary", nil)
	req.Header.Set("Authorization", "Bearer "+h.accessToken(t, 4, "gone@example.test", store.RoleAdmin))
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
