// Package admission gates every inbound request through the fixed chain:
// ip block check, rate limit check, handler, request-log emission. On
// storage failure the chain fails open so a degraded rule store never takes
// the platform down with it.
package admission

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/observability"
	"github.com/barakah-labs/minaret/pkg/store"
)

// Pipeline is the request-admission chain. One instance fronts the whole
// HTTP surface.
type Pipeline struct {
	st       *store.Store
	counters CounterStore
	cache    *ruleCache
	emitter  *emitter
	obs      *observability.Provider
	logger   *slog.Logger
}

// New creates a pipeline over the given stores. obs may be nil.
func New(st *store.Store, counters CounterStore, obs *observability.Provider) *Pipeline {
	logger := slog.Default().With("component", "admission")
	return &Pipeline{
		st:       st,
		counters: counters,
		cache:    newRuleCache(st, logger),
		emitter:  newEmitter(st, logger),
		obs:      obs,
		logger:   logger,
	}
}

// Middleware applies the admission chain to next.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := ClientIP(r)

		rules, blocks, degraded := p.cache.snapshot(r.Context())

		// 1. IP block check. Blocked requests are logged but never counted
		// toward rate limits.
		if !degraded && ip != "unknown" {
			if rule := blocks[ip]; rule != nil && rule.State(time.Now()) == store.StateBlocked {
				p.reject(w, r, ip, start, http.StatusForbidden, func(w http.ResponseWriter) {
					api.WriteJSON(w, http.StatusForbidden, api.Envelope{
						Success: false,
						Data:    blockBody(rule),
						Error:   &api.ErrorBody{Kind: errs.KindForbidden, Message: "ip address is blocked"},
					})
				})
				return
			}
		}

		// 2. Rate limit check against the most specific matching rule.
		if rule := mostSpecific(rules, r.Method, r.URL.Path); rule != nil && !degraded {
			key := CounterKey(ip, rule.EndpointPattern, rule.Method)
			count, windowStart, err := p.counters.Incr(r.Context(), key, rule.WindowSeconds, time.Now())
			if err != nil {
				// Fail open: the counter store is degraded, not the client.
				// Headers still report the rule's limit with a full window;
				// the window start is derivable without the counter.
				p.logger.Warn("rate limit counter failed, failing open", "error", err)
				ws := time.Now().Unix()
				ws -= ws % int64(rule.WindowSeconds)
				setRateHeaders(w, rule.LimitCount, int64(rule.LimitCount), ws+int64(rule.WindowSeconds))
			} else {
				reset := windowStart + int64(rule.WindowSeconds)
				remaining := int64(rule.LimitCount) - count
				if remaining < 0 {
					remaining = 0
				}
				setRateHeaders(w, rule.LimitCount, remaining, reset)
				if count > int64(rule.LimitCount) {
					retryAfter := reset - time.Now().Unix()
					if retryAfter < 1 {
						retryAfter = 1
					}
					p.reject(w, r, ip, start, http.StatusTooManyRequests, func(w http.ResponseWriter) {
						api.WriteTooManyRequests(w, retryAfter)
					})
					return
				}
			}
		}

		// 3. Handler.
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// 4. Request log, async.
		p.record(r, ip, rec.status, start)
	})
}

// reject writes the rejection response and still emits a request log entry.
func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, ip string, start time.Time, status int, write func(http.ResponseWriter)) {
	write(w)
	p.record(r, ip, status, start)
}

func (p *Pipeline) record(r *http.Request, ip string, status int, start time.Time) {
	latency := time.Since(start)
	p.emitter.emit(&store.RequestLogEntry{
		IP:         ip,
		Method:     r.Method,
		Endpoint:   r.URL.Path,
		StatusCode: status,
		LatencyMs:  latency.Milliseconds(),
		UserAgent:  r.UserAgent(),
		ReceivedAt: start.UTC(),
	}, status >= 400)
	if p.obs != nil {
		p.obs.RecordRequest(r.Context(), r.Method, r.URL.Path, status, latency)
	}
}

// Invalidate forces rule cache refresh; wired to rule CRUD and /cache/clear.
func (p *Pipeline) Invalidate() {
	p.cache.invalidate()
}

// PurgeRuleCounters drops the live counters for a deleted or updated rule.
func (p *Pipeline) PurgeRuleCounters(ctx context.Context, pattern, method string) error {
	return p.counters.Purge(ctx, RuleKeyPrefix(pattern, method))
}

// Close drains the async emitter.
func (p *Pipeline) Close() {
	p.emitter.close()
}

func setRateHeaders(w http.ResponseWriter, limit int, remaining, reset int64) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

func blockBody(rule *store.IPBlockRule) map[string]any {
	body := map[string]any{"reason": rule.Reason}
	if rule.ExpiresAt != nil {
		body["expires_at"] = rule.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		body["expires_at"] = nil
	}
	return body
}

// ClientIP extracts the client address, preferring the first X-Forwarded-For
// hop when present. Unparseable addresses map to "unknown": never blocked,
// counted normally.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	if net.ParseIP(host) == nil {
		return "unknown"
	}
	return host
}

// statusRecorder captures the handler's status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}
