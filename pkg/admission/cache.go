package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/barakah-labs/minaret/pkg/store"
)

// ruleCacheTTL bounds how stale the admission caches may get between CRUD
// invalidations.
const ruleCacheTTL = 10 * time.Second

// ruleCache holds the enabled rate-limit rules and active ip blocks. Lookups
// are hot-path; the cache refreshes lazily on TTL expiry and is invalidated
// by rule CRUD and /cache/clear.
type ruleCache struct {
	st     *store.Store
	logger *slog.Logger

	mu        sync.RWMutex
	rules     []*store.RateLimitRule
	blocks    map[string]*store.IPBlockRule
	fetchedAt time.Time
}

func newRuleCache(st *store.Store, logger *slog.Logger) *ruleCache {
	return &ruleCache{st: st, logger: logger, blocks: map[string]*store.IPBlockRule{}}
}

// snapshot returns current rules and blocks, refreshing if stale. A refresh
// failure returns the previous snapshot and reports degraded=true so the
// pipeline can fail open.
func (c *ruleCache) snapshot(ctx context.Context) (rules []*store.RateLimitRule, blocks map[string]*store.IPBlockRule, degraded bool) {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < ruleCacheTTL
	rules, blocks = c.rules, c.blocks
	c.mu.RUnlock()
	if fresh {
		return rules, blocks, false
	}

	newRules, err := c.st.RateLimits.ListEnabled(ctx)
	if err != nil {
		c.logger.Warn("rate limit rule refresh failed, failing open", "error", err)
		return rules, blocks, true
	}
	activeBlocks, err := c.st.IPBlocks.ListActive(ctx)
	if err != nil {
		c.logger.Warn("ip block refresh failed, failing open", "error", err)
		return rules, blocks, true
	}

	blockMap := make(map[string]*store.IPBlockRule, len(activeBlocks))
	for _, b := range activeBlocks {
		blockMap[b.IP] = b
	}

	c.mu.Lock()
	c.rules = newRules
	c.blocks = blockMap
	c.fetchedAt = time.Now()
	rules, blocks = c.rules, c.blocks
	c.mu.Unlock()
	return rules, blocks, false
}

// invalidate forces the next snapshot to refresh.
func (c *ruleCache) invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
