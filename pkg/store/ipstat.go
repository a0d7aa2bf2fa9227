package store

import (
	"context"
	"time"
)

// ClientIPStat is the eventually consistent per-client counter row maintained
// by the admission pipeline.
type ClientIPStat struct {
	IP            string    `json:"ip"`
	RequestCount  int64     `json:"requestCount"`
	ErrorCount    int64     `json:"errorCount"`
	LastRequestAt time.Time `json:"lastRequestAt"`
	Blocked       bool      `json:"blocked"`
}

// IPStatRepo persists client ip stats.
type IPStatRepo struct {
	s *Store
}

// Bump increments the request counter, and the error counter when isError.
// The upsert is a single atomic statement so concurrent bumps never lose
// increments.
func (r *IPStatRepo) Bump(ctx context.Context, ip string, isError bool) error {
	errInc := 0
	if isError {
		errInc = 1
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO ip_stats (ip, request_count, error_count, last_request_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (ip) DO UPDATE SET
			request_count = ip_stats.request_count + 1,
			error_count = ip_stats.error_count + $2,
			last_request_at = NOW()`, ip, errInc)
	if err != nil {
		return storageErr("bump", "ip_stat", err)
	}
	return nil
}

// SetBlocked mirrors the ip's block state onto its stat row.
func (r *IPStatRepo) SetBlocked(ctx context.Context, ip string, blocked bool) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO ip_stats (ip, blocked) VALUES ($1, $2)
		ON CONFLICT (ip) DO UPDATE SET blocked = $2`, ip, blocked)
	if err != nil {
		return storageErr("set_blocked", "ip_stat", err)
	}
	return nil
}

// Top returns the busiest clients since cutoff.
func (r *IPStatRepo) Top(ctx context.Context, limit int) ([]*ClientIPStat, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT ip, request_count, error_count, last_request_at, blocked
		FROM ip_stats ORDER BY request_count DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr("top", "ip_stat", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ClientIPStat
	for rows.Next() {
		var st ClientIPStat
		if err := rows.Scan(&st.IP, &st.RequestCount, &st.ErrorCount, &st.LastRequestAt, &st.Blocked); err != nil {
			return nil, storageErr("top", "ip_stat", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
