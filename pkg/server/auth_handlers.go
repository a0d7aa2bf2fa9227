package server

import (
	"net/http"
	"time"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/store"
)

// userView is the safe projection of an admin user.
type userView struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName,omitempty"`
	LastName    string     `json:"lastName,omitempty"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func viewUser(u *store.AdminUser) userView {
	perms := u.Permissions
	if len(perms) == 0 {
		perms = auth.DefaultPermissions(u.Role)
	}
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		Permissions: perms,
		Active:      u.Active,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	res, err := s.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, map[string]any{
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"user":         viewUser(res.User),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	res, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, map[string]any{
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	p := auth.GetPrincipal(r.Context())
	if err := s.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteMessage(w, http.StatusOK, "password changed", nil)
}

func (s *Server) handlePasswordRequirements(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, auth.Requirements())
}
