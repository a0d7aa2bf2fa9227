package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// AuditEntry is one append-only audit record. UserID is nil for system
// actions.
type AuditEntry struct {
	ID         int64          `json:"id"`
	UserID     *int64         `json:"userId,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AuditRepo persists the audit log. Entries are never mutated.
type AuditRepo struct {
	s *Store
}

// Append writes a single entry.
func (r *AuditRepo) Append(ctx context.Context, e *AuditEntry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return storageErr("append", "audit_log", err)
		}
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (user_id, action, resource, resource_id, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.UserID, e.Action, e.Resource, nullStr(e.ResourceID), details, nullStr(e.IP), nullStr(e.UserAgent))
	if err != nil {
		return storageErr("append", "audit_log", err)
	}
	return nil
}

// AuditFilter narrows a listing.
type AuditFilter struct {
	UserID   *int64
	Action   string
	Resource string
	Since    *time.Time
}

// List returns entries newest-first.
func (r *AuditRepo) List(ctx context.Context, f AuditFilter, p Pagination) ([]*AuditEntry, error) {
	p = p.Normalize()
	query := `SELECT id, user_id, action, resource, COALESCE(resource_id,''), details,
		COALESCE(ip,''), COALESCE(user_agent,''), created_at FROM audit_log WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		query += " AND " + clause + placeholder(n)
		args = append(args, v)
	}
	if f.UserID != nil {
		add("user_id = ", *f.UserID)
	}
	if f.Action != "" {
		add("action = ", f.Action)
	}
	if f.Resource != "" {
		add("resource = ", f.Resource)
	}
	if f.Since != nil {
		add("created_at >= ", *f.Since)
	}
	query += " ORDER BY created_at DESC"
	args = append(args, p.Limit, p.Offset)
	query += " LIMIT " + placeholder(n+1) + " OFFSET " + placeholder(n+2)

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list", "audit_log", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var userID sql.NullInt64
		var details []byte
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.Resource, &e.ResourceID,
			&details, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, storageErr("list", "audit_log", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
