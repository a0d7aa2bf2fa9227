package server

import (
	"net"
	"net/http"
	"time"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

func (s *Server) handleListRateLimits(w http.ResponseWriter, r *http.Request) {
	rules, err := s.st.RateLimits.List(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, rules)
}

func (s *Server) handleCreateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EndpointPattern string `json:"endpointPattern"`
		Method          string `json:"method"`
		LimitCount      int    `json:"limitCount"`
		WindowSeconds   int    `json:"windowSeconds"`
		Enabled         *bool  `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := s.st.RateLimits.Create(r.Context(), &store.RateLimitRule{
		EndpointPattern: req.EndpointPattern,
		Method:          req.Method,
		LimitCount:      req.LimitCount,
		WindowSeconds:   req.WindowSeconds,
		Enabled:         enabled,
	})
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.pipeline.Invalidate()
	s.record(r, audit.ActionCreate, "rate_limit_rule", rule.EndpointPattern,
		map[string]any{"method": rule.Method, "limit": rule.LimitCount, "window": rule.WindowSeconds})
	api.WriteMessage(w, http.StatusCreated, "rate limit rule created", rule)
}

func (s *Server) handleUpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	var req struct {
		EndpointPattern *string `json:"endpointPattern"`
		Method          *string `json:"method"`
		LimitCount      *int    `json:"limitCount"`
		WindowSeconds   *int    `json:"windowSeconds"`
		Enabled         *bool   `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	rule, err := s.st.RateLimits.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	oldPattern, oldMethod := rule.EndpointPattern, rule.Method
	if req.EndpointPattern != nil {
		rule.EndpointPattern = *req.EndpointPattern
	}
	if req.Method != nil {
		rule.Method = *req.Method
	}
	if req.LimitCount != nil {
		rule.LimitCount = *req.LimitCount
	}
	if req.WindowSeconds != nil {
		rule.WindowSeconds = *req.WindowSeconds
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := s.st.RateLimits.Update(r.Context(), rule); err != nil {
		api.WriteError(w, err)
		return
	}

	// Stale counters under the old key would enforce a rule that no longer
	// exists in that shape.
	s.pipeline.Invalidate()
	if err := s.pipeline.PurgeRuleCounters(r.Context(), oldPattern, oldMethod); err != nil {
		s.logger.Warn("counter purge failed", "pattern", oldPattern, "error", err)
	}

	s.record(r, audit.ActionUpdate, "rate_limit_rule", rule.EndpointPattern,
		map[string]any{"method": rule.Method, "limit": rule.LimitCount, "enabled": rule.Enabled})
	api.WriteMessage(w, http.StatusOK, "rate limit rule updated", rule)
}

func (s *Server) handleDeleteRateLimit(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}

	rule, err := s.st.RateLimits.Delete(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.pipeline.Invalidate()
	if err := s.pipeline.PurgeRuleCounters(r.Context(), rule.EndpointPattern, rule.Method); err != nil {
		s.logger.Warn("counter purge failed", "pattern", rule.EndpointPattern, "error", err)
	}

	s.record(r, audit.ActionDelete, "rate_limit_rule", rule.EndpointPattern,
		map[string]any{"method": rule.Method})
	api.WriteMessage(w, http.StatusOK, "rate limit rule deleted", nil)
}

func (s *Server) handleListIPBlocks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		rules, err := s.st.IPBlocks.List(r.Context(), pagination(r))
		if err != nil {
			api.WriteError(w, err)
			return
		}
		api.WriteData(w, rules)
		return
	}
	rules, err := s.st.IPBlocks.ListActive(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, rules)
}

func (s *Server) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP        string     `json:"ip"`
		Reason    string     `json:"reason"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	if net.ParseIP(req.IP) == nil {
		api.WriteError(w, errs.Validation("invalid ip block", "ip must be a valid address"))
		return
	}

	blockedBy := ""
	if p := auth.GetPrincipal(r.Context()); p != nil {
		blockedBy = p.Email
	}
	rule, err := s.st.IPBlocks.Block(r.Context(), &store.IPBlockRule{
		IP:        req.IP,
		Reason:    req.Reason,
		BlockedBy: blockedBy,
		ExpiresAt: req.ExpiresAt,
		Enabled:   true,
	})
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if err := s.st.IPStats.SetBlocked(r.Context(), req.IP, true); err != nil {
		s.logger.Warn("ip stat flag update failed", "ip", req.IP, "error", err)
	}

	s.pipeline.Invalidate()
	s.record(r, audit.ActionBlockIP, "ip_block_rule", rule.IP,
		map[string]any{"reason": rule.Reason, "expiresAt": rule.ExpiresAt})
	api.WriteMessage(w, http.StatusCreated, "ip blocked", rule)
}

func (s *Server) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if net.ParseIP(ip) == nil {
		api.WriteError(w, errs.Validation("invalid ip block", "ip must be a valid address"))
		return
	}

	if err := s.st.IPBlocks.Unblock(r.Context(), ip); err != nil {
		api.WriteError(w, err)
		return
	}
	if err := s.st.IPStats.SetBlocked(r.Context(), ip, false); err != nil {
		s.logger.Warn("ip stat flag update failed", "ip", ip, "error", err)
	}

	s.pipeline.Invalidate()
	s.record(r, audit.ActionUnblockIP, "ip_block_rule", ip, nil)
	api.WriteMessage(w, http.StatusOK, "ip unblocked", nil)
}

var analyticsRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	rangeName := r.URL.Query().Get("timeRange")
	if rangeName == "" {
		rangeName = "24h"
	}
	span, ok := analyticsRanges[rangeName]
	if !ok {
		api.WriteError(w, errs.Validation("invalid analytics range",
			"timeRange must be one of 1h, 24h, 7d, 30d"))
		return
	}

	agg, err := s.st.RequestLog.Aggregate(r.Context(), time.Now().Add(-span))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	top, err := s.st.IPStats.Top(r.Context(), 10)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, map[string]any{
		"timeRange":  rangeName,
		"traffic":    agg,
		"topClients": top,
	})
}
