package admission

import (
	"strings"

	"github.com/barakah-labs/minaret/pkg/store"
)

// matchPattern reports whether path matches a glob pattern where `*` matches
// exactly one path segment.
func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	tSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i := range pSegs {
		if pSegs[i] == "*" {
			continue
		}
		if pSegs[i] != tSegs[i] {
			return false
		}
	}
	return true
}

// globCount counts wildcard segments; fewer is more specific.
func globCount(pattern string) int {
	n := 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "*" {
			n++
		}
	}
	return n
}

// mostSpecific resolves the winning rule for (method, path) among enabled
// rules. Exact path beats glob; narrower glob beats wider; a method-specific
// rule beats ALL. Returns nil when nothing matches.
func mostSpecific(rules []*store.RateLimitRule, method, path string) *store.RateLimitRule {
	var best *store.RateLimitRule
	bestScore := -1
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.Method != "ALL" && r.Method != method {
			continue
		}
		if !matchPattern(r.EndpointPattern, path) {
			continue
		}
		score := 0
		if r.EndpointPattern == path {
			score += 1 << 20
		} else {
			// Fewer wildcards rank higher.
			score += 1<<10 - globCount(r.EndpointPattern)
		}
		if r.Method != "ALL" {
			score += 1 << 4
		}
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best
}
