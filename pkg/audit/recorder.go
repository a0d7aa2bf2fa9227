// Package audit appends operator actions to the persistent audit log. Every
// admin control mutation records who did what to which resource; payloads are
// redacted before they are stored.
package audit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/barakah-labs/minaret/pkg/store"
)

// Action names recorded by the admin surface.
const (
	ActionLogin          = "LOGIN"
	ActionRefresh        = "REFRESH"
	ActionChangePassword = "CHANGE_PASSWORD"
	ActionResetPassword  = "RESET_PASSWORD"
	ActionCreate         = "CREATE"
	ActionUpdate         = "UPDATE"
	ActionDelete         = "DELETE"
	ActionSyncTrigger    = "SYNC_TRIGGER"
	ActionBlockIP        = "BLOCK_IP"
	ActionUnblockIP      = "UNBLOCK_IP"
	ActionJobControl     = "JOB_CONTROL"
	ActionCacheClear     = "CACHE_CLEAR"
)

// Event describes one auditable action.
type Event struct {
	UserID     *int64
	Action     string
	Resource   string
	ResourceID string
	Details    map[string]any
	IP         string
	UserAgent  string
}

// Recorder writes audit entries. A failed write is logged, never surfaced;
// the audited operation has already succeeded.
type Recorder struct {
	st     *store.Store
	logger *slog.Logger
}

// NewRecorder creates a recorder over the store.
func NewRecorder(st *store.Store) *Recorder {
	return &Recorder{st: st, logger: slog.Default().With("component", "audit")}
}

// Record redacts and appends one event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	entry := &store.AuditEntry{
		UserID:     ev.UserID,
		Action:     ev.Action,
		Resource:   ev.Resource,
		ResourceID: ev.ResourceID,
		Details:    Redact(ev.Details),
		IP:         ev.IP,
		UserAgent:  ev.UserAgent,
	}
	if err := r.st.Audit.Append(ctx, entry); err != nil {
		r.logger.Warn("audit append failed",
			"action", ev.Action, "resource", ev.Resource, "error", err)
	}
}

// redactedKeys are payload fields that must never reach the audit log.
var redactedKeys = []string{"password", "token", "secret", "hash"}

// Redact returns a copy of details with credential-bearing fields removed.
// Nested maps are redacted recursively.
func Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isRedacted(k) {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isRedacted(key string) bool {
	lower := strings.ToLower(key)
	for _, bad := range redactedKeys {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}
