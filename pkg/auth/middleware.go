package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

type contextKey string

const principalKey contextKey = "principal"

// GetPrincipal returns the authenticated caller, or nil on an
// unauthenticated request.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// WithPrincipal attaches a principal; used by tests and the middleware.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Middleware verifies the bearer access token, resolves the user, and puts a
// Principal on the context. Paths in skip are passed through untouched.
func Middleware(tokens *TokenService, users *store.UserRepo, skip ...string) func(http.Handler) http.Handler {
	skipSet := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := bearerToken(r)
			if !ok {
				api.WriteUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := tokens.VerifyAccess(tokenStr)
			if err != nil {
				api.WriteError(w, err)
				return
			}
			userID, err := parseUserID(claims.Subject)
			if err != nil {
				api.WriteUnauthorized(w, "invalid access token")
				return
			}

			u, err := users.GetByID(r.Context(), userID)
			if err != nil {
				if errs.IsKind(err, errs.KindNotFound) {
					api.WriteUnauthorized(w, "account no longer exists")
					return
				}
				api.WriteError(w, err)
				return
			}
			if !u.Active {
				api.WriteUnauthorized(w, "account is disabled")
				return
			}

			p := &Principal{
				UserID:      u.ID,
				Email:       u.Email,
				Role:        u.Role,
				Permissions: u.Permissions,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePermission guards a handler with a single permission check.
func RequirePermission(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := GetPrincipal(r.Context()).Require(perm); err != nil {
			api.WriteError(w, err)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
