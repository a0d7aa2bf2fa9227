package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// RateLimitRule limits requests matching (endpoint pattern, method). The
// pattern is a path glob where `*` matches exactly one segment; method ALL
// matches any verb.
type RateLimitRule struct {
	ID              int64     `json:"id"`
	EndpointPattern string    `json:"endpointPattern"`
	Method          string    `json:"method"`
	LimitCount      int       `json:"limitCount"`
	WindowSeconds   int       `json:"windowSeconds"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true, "ALL": true,
}

// Validate checks rule fields against the documented bounds.
func (r *RateLimitRule) Validate() error {
	var failures []string
	if r.EndpointPattern == "" {
		failures = append(failures, "endpoint pattern is required")
	}
	if !validMethods[r.Method] {
		failures = append(failures, "method must be one of GET, POST, PUT, DELETE, PATCH, ALL")
	}
	if r.LimitCount < 1 {
		failures = append(failures, "limit count must be a positive integer")
	}
	if r.WindowSeconds < 1 || r.WindowSeconds > 86400 {
		failures = append(failures, "window seconds must be in [1, 86400]")
	}
	if len(failures) > 0 {
		return errs.Validation("invalid rate limit rule", failures...)
	}
	return nil
}

// RateLimitRepo persists rate-limit rules.
type RateLimitRepo struct {
	s *Store
}

const rateLimitColumns = `id, endpoint_pattern, method, limit_count, window_seconds, enabled, created_at, updated_at`

func scanRateLimitRule(row interface{ Scan(...any) error }) (*RateLimitRule, error) {
	var r RateLimitRule
	err := row.Scan(&r.ID, &r.EndpointPattern, &r.Method, &r.LimitCount,
		&r.WindowSeconds, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a rule; (pattern, method) must be unique.
func (r *RateLimitRepo) Create(ctx context.Context, rule *RateLimitRule) (*RateLimitRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_rules (endpoint_pattern, method, limit_count, window_seconds, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+rateLimitColumns,
		rule.EndpointPattern, rule.Method, rule.LimitCount, rule.WindowSeconds, rule.Enabled)
	created, err := scanRateLimitRule(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.Newf(errs.KindConflict, "rule for %s %s already exists", rule.Method, rule.EndpointPattern)
		}
		return nil, storageErr("create", "rate_limit_rule", err)
	}
	return created, nil
}

// Update rewrites a rule in place.
func (r *RateLimitRepo) Update(ctx context.Context, rule *RateLimitRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE rate_limit_rules
		SET endpoint_pattern = $2, method = $3, limit_count = $4, window_seconds = $5, enabled = $6, updated_at = NOW()
		WHERE id = $1`,
		rule.ID, rule.EndpointPattern, rule.Method, rule.LimitCount, rule.WindowSeconds, rule.Enabled)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Newf(errs.KindConflict, "rule for %s %s already exists", rule.Method, rule.EndpointPattern)
		}
		return storageErr("update", "rate_limit_rule", err)
	}
	return requireRow(res, "rate limit rule not found")
}

// Delete removes a rule by id, returning the removed rule so live counters
// can be purged.
func (r *RateLimitRepo) Delete(ctx context.Context, id int64) (*RateLimitRule, error) {
	row := r.s.db.QueryRowContext(ctx,
		`DELETE FROM rate_limit_rules WHERE id = $1 RETURNING `+rateLimitColumns, id)
	rule, err := scanRateLimitRule(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "rate limit rule not found")
	}
	if err != nil {
		return nil, storageErr("delete", "rate_limit_rule", err)
	}
	return rule, nil
}

// Get returns a rule by id.
func (r *RateLimitRepo) Get(ctx context.Context, id int64) (*RateLimitRule, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+rateLimitColumns+` FROM rate_limit_rules WHERE id = $1`, id)
	rule, err := scanRateLimitRule(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "rate limit rule not found")
	}
	if err != nil {
		return nil, storageErr("get", "rate_limit_rule", err)
	}
	return rule, nil
}

// List returns all rules, enabled first, most specific first.
func (r *RateLimitRepo) List(ctx context.Context) ([]*RateLimitRule, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+rateLimitColumns+` FROM rate_limit_rules ORDER BY enabled DESC, endpoint_pattern, method`)
	if err != nil {
		return nil, storageErr("list", "rate_limit_rule", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RateLimitRule
	for rows.Next() {
		rule, err := scanRateLimitRule(rows)
		if err != nil {
			return nil, storageErr("list", "rate_limit_rule", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListEnabled returns only enabled rules, for the admission rule cache.
func (r *RateLimitRepo) ListEnabled(ctx context.Context) ([]*RateLimitRule, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+rateLimitColumns+` FROM rate_limit_rules WHERE enabled`)
	if err != nil {
		return nil, storageErr("list_enabled", "rate_limit_rule", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RateLimitRule
	for rows.Next() {
		rule, err := scanRateLimitRule(rows)
		if err != nil {
			return nil, storageErr("list_enabled", "rate_limit_rule", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
