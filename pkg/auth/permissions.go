package auth

import (
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

// Permission names used by the admin surface.
const (
	PermCreateUsers = "create:users"
	PermReadUsers   = "read:users"
	PermUpdateUsers = "update:users"
	PermDeleteUsers = "delete:users"
	PermTriggerSync = "trigger:sync"
	PermReadSync    = "read:sync"
	PermManageRules = "manage:rules"
	PermReadStats   = "read:stats"
	PermManageJobs  = "manage:jobs"
	PermClearCache  = "clear:cache"
)

// allPermissions is the closed set; super_admin holds all of it implicitly.
var allPermissions = []string{
	PermCreateUsers, PermReadUsers, PermUpdateUsers, PermDeleteUsers,
	PermTriggerSync, PermReadSync, PermManageRules, PermReadStats,
	PermManageJobs, PermClearCache,
}

// rolePermissions are the defaults applied when a user has no explicit set.
var rolePermissions = map[string][]string{
	store.RoleSuperAdmin: allPermissions,
	store.RoleAdmin: {
		PermCreateUsers, PermReadUsers, PermUpdateUsers,
		PermTriggerSync, PermReadSync, PermManageRules, PermReadStats,
		PermManageJobs, PermClearCache,
	},
	store.RoleEditor: {PermReadUsers, PermTriggerSync, PermReadSync, PermReadStats},
	store.RoleViewer: {PermReadSync, PermReadStats},
}

// DefaultPermissions returns the default set for a role. Unknown roles get
// nothing.
func DefaultPermissions(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID      int64
	Email       string
	Role        string
	Permissions []string
}

// Has reports whether the principal holds perm. A super_admin holds every
// permission regardless of the stored set; other roles use their explicit
// set when present, otherwise the role default.
func (p *Principal) Has(perm string) bool {
	if p == nil {
		return false
	}
	if p.Role == store.RoleSuperAdmin {
		return true
	}
	perms := p.Permissions
	if len(perms) == 0 {
		perms = rolePermissions[p.Role]
	}
	for _, have := range perms {
		if have == perm {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of the perms.
func (p *Principal) HasAny(perms ...string) bool {
	for _, perm := range perms {
		if p.Has(perm) {
			return true
		}
	}
	return false
}

// Require returns a forbidden error when the principal lacks perm.
func (p *Principal) Require(perm string) error {
	if p.Has(perm) {
		return nil
	}
	return errs.Newf(errs.KindForbidden, "missing permission %s", perm)
}
