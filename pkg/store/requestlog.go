package store

import (
	"context"
	"database/sql"
	"time"
)

// RequestLogEntry records one inbound request, including admission rejects.
type RequestLogEntry struct {
	ID         int64
	IP         string
	Method     string
	Endpoint   string
	StatusCode int
	LatencyMs  int64
	UserAgent  string
	ReceivedAt time.Time
}

// RequestLogRepo persists the append-mostly request log and answers the
// analytics aggregates over it.
type RequestLogRepo struct {
	s *Store
}

// Insert appends one entry.
func (r *RequestLogRepo) Insert(ctx context.Context, e *RequestLogEntry) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO request_log (ip, method, endpoint, status_code, latency_ms, user_agent, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.IP, e.Method, e.Endpoint, e.StatusCode, e.LatencyMs, nullStr(e.UserAgent), e.ReceivedAt)
	if err != nil {
		return storageErr("insert", "request_log", err)
	}
	return nil
}

// InsertBatch appends entries chunk-wise; used by the async emitter. A
// failing chunk does not abort the rest.
func (r *RequestLogRepo) InsertBatch(ctx context.Context, entries []*RequestLogEntry) []ChunkError {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.s.inChunks(ctx, len(entries), func(tx *sql.Tx, lo, hi int) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO request_log (ip, method, endpoint, status_code, latency_ms, user_agent, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`)
		if err != nil {
			return storageErr("insert_batch", "request_log", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, e := range entries[lo:hi] {
			if e.ReceivedAt.IsZero() {
				e.ReceivedAt = now
			}
			if _, err := stmt.ExecContext(ctx, e.IP, e.Method, e.Endpoint,
				e.StatusCode, e.LatencyMs, nullStr(e.UserAgent), e.ReceivedAt); err != nil {
				return storageErr("insert_batch", "request_log", err)
			}
		}
		return nil
	})
}

// EndpointCount is an aggregate row for top-endpoint analytics.
type EndpointCount struct {
	Endpoint string  `json:"endpoint"`
	Count    int64   `json:"count"`
	ErrRate  float64 `json:"error_rate"`
}

// Analytics aggregates request traffic since the cutoff.
type Analytics struct {
	TotalRequests int64           `json:"total_requests"`
	ErrorRequests int64           `json:"error_requests"`
	AvgLatencyMs  float64         `json:"avg_latency_ms"`
	TopEndpoints  []EndpointCount `json:"top_endpoints"`
	UniqueIPs     int64           `json:"unique_ips"`
}

// Aggregate computes traffic analytics for requests received after cutoff.
func (r *RequestLogRepo) Aggregate(ctx context.Context, cutoff time.Time) (*Analytics, error) {
	a := &Analytics{}
	err := r.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status_code >= 400),
		       COALESCE(AVG(latency_ms), 0),
		       COUNT(DISTINCT ip)
		FROM request_log WHERE received_at >= $1`, cutoff).
		Scan(&a.TotalRequests, &a.ErrorRequests, &a.AvgLatencyMs, &a.UniqueIPs)
	if err != nil {
		return nil, storageErr("aggregate", "request_log", err)
	}

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT endpoint, COUNT(*),
		       COALESCE(AVG(CASE WHEN status_code >= 400 THEN 1.0 ELSE 0.0 END), 0)
		FROM request_log WHERE received_at >= $1
		GROUP BY endpoint ORDER BY COUNT(*) DESC LIMIT 10`, cutoff)
	if err != nil {
		return nil, storageErr("aggregate", "request_log", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ec EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Count, &ec.ErrRate); err != nil {
			return nil, storageErr("aggregate", "request_log", err)
		}
		a.TopEndpoints = append(a.TopEndpoints, ec)
	}
	return a, rows.Err()
}
