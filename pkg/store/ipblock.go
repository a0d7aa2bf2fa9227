package store

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// IPBlockRule denies all requests from an address while enabled and not
// expired. At most one enabled rule exists per ip (partial unique index).
type IPBlockRule struct {
	ID        int64      `json:"id"`
	IP        string     `json:"ip"`
	Reason    string     `json:"reason,omitempty"`
	BlockedBy string     `json:"blockedBy,omitempty"`
	BlockedAt time.Time  `json:"blockedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// BlockState is the derived lifecycle state of a rule.
type BlockState string

const (
	StateBlocked   BlockState = "blocked"
	StateExpired   BlockState = "expired"
	StateUnblocked BlockState = "unblocked"
)

// State derives the rule's lifecycle state at time now.
func (b *IPBlockRule) State(now time.Time) BlockState {
	if b.Enabled && (b.ExpiresAt == nil || b.ExpiresAt.After(now)) {
		return StateBlocked
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
		return StateExpired
	}
	return StateUnblocked
}

// IPBlockRepo persists ip block rules.
type IPBlockRepo struct {
	s *Store
}

const ipBlockColumns = `id, ip, reason, blocked_by, blocked_at, expires_at, enabled`

func scanIPBlock(row interface{ Scan(...any) error }) (*IPBlockRule, error) {
	var b IPBlockRule
	var expires sql.NullTime
	err := row.Scan(&b.ID, &b.IP, &b.Reason, &b.BlockedBy, &b.BlockedAt, &expires, &b.Enabled)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		b.ExpiresAt = &expires.Time
	}
	return &b, nil
}

// Block creates an enabled rule for ip, disabling any previous enabled rule
// for the same address so the one-enabled-rule-per-ip invariant holds.
func (r *IPBlockRepo) Block(ctx context.Context, rule *IPBlockRule) (*IPBlockRule, error) {
	if net.ParseIP(rule.IP) == nil {
		return nil, errs.Validation("invalid ip block rule", "ip must be a valid IPv4 or IPv6 address")
	}
	var created *IPBlockRule
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ip_block_rules SET enabled = FALSE WHERE ip = $1 AND enabled`, rule.IP); err != nil {
			return storageErr("block", "ip_block_rule", err)
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO ip_block_rules (ip, reason, blocked_by, expires_at, enabled)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING `+ipBlockColumns,
			rule.IP, rule.Reason, rule.BlockedBy, rule.ExpiresAt)
		b, err := scanIPBlock(row)
		if err != nil {
			return storageErr("block", "ip_block_rule", err)
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Unblock disables the enabled rule for ip.
func (r *IPBlockRepo) Unblock(ctx context.Context, ip string) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE ip_block_rules SET enabled = FALSE WHERE ip = $1 AND enabled`, ip)
	if err != nil {
		return storageErr("unblock", "ip_block_rule", err)
	}
	return requireRow(res, "no enabled block for that ip")
}

// FindActive returns the enabled, non-expired rule for ip, or nil.
func (r *IPBlockRepo) FindActive(ctx context.Context, ip string) (*IPBlockRule, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT `+ipBlockColumns+` FROM ip_block_rules
		WHERE ip = $1 AND enabled AND (expires_at IS NULL OR expires_at > NOW())`, ip)
	b, err := scanIPBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find_active", "ip_block_rule", err)
	}
	return b, nil
}

// ListActive returns all enabled, non-expired rules for the admission cache.
func (r *IPBlockRepo) ListActive(ctx context.Context) ([]*IPBlockRule, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT `+ipBlockColumns+` FROM ip_block_rules
		WHERE enabled AND (expires_at IS NULL OR expires_at > NOW())`)
	if err != nil {
		return nil, storageErr("list_active", "ip_block_rule", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*IPBlockRule
	for rows.Next() {
		b, err := scanIPBlock(rows)
		if err != nil {
			return nil, storageErr("list_active", "ip_block_rule", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// List returns all rules newest-first.
func (r *IPBlockRepo) List(ctx context.Context, p Pagination) ([]*IPBlockRule, error) {
	p = p.Normalize()
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+ipBlockColumns+` FROM ip_block_rules ORDER BY blocked_at DESC LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset)
	if err != nil {
		return nil, storageErr("list", "ip_block_rule", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*IPBlockRule
	for rows.Next() {
		b, err := scanIPBlock(rows)
		if err != nil {
			return nil, storageErr("list", "ip_block_rule", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
