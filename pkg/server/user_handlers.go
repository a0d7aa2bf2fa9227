package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/barakah-labs/minaret/pkg/api"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

var validRoles = map[string]bool{
	store.RoleSuperAdmin: true,
	store.RoleAdmin:      true,
	store.RoleEditor:     true,
	store.RoleViewer:     true,
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	users, total, err := s.st.Users.List(r.Context(), p)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewUser(u))
	}
	p = p.Normalize()
	api.WriteData(w, map[string]any{
		"users":   views,
		"total":   total,
		"limit":   p.Limit,
		"offset":  p.Offset,
		"hasMore": p.Offset+len(views) < total,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string   `json:"email"`
		Password    string   `json:"password"`
		FirstName   string   `json:"firstName"`
		LastName    string   `json:"lastName"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
		Active      *bool    `json:"active"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		api.WriteError(w, errs.Validation("invalid user", "email is required"))
		return
	}
	if !validRoles[req.Role] {
		api.WriteError(w, errs.Validation("invalid user",
			"role must be one of super_admin, admin, editor, viewer"))
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		api.WriteError(w, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := s.st.Users.Create(r.Context(), &store.AdminUser{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Permissions:  req.Permissions,
		Active:       active,
	})
	if err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionCreate, "admin_user", created.Email,
		map[string]any{"role": created.Role})
	api.WriteMessage(w, http.StatusCreated, "user created", viewUser(created))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	u, err := s.st.Users.GetByID(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, viewUser(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	var req struct {
		FirstName   *string   `json:"firstName"`
		LastName    *string   `json:"lastName"`
		Role        *string   `json:"role"`
		Permissions *[]string `json:"permissions"`
		Active      *bool     `json:"active"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	if req.Role != nil && !validRoles[*req.Role] {
		api.WriteError(w, errs.Validation("invalid user",
			"role must be one of super_admin, admin, editor, viewer"))
		return
	}

	u, err := s.st.Users.GetByID(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Permissions != nil {
		u.Permissions = *req.Permissions
	}
	if req.Active != nil {
		u.Active = *req.Active
	}
	if err := s.st.Users.Update(r.Context(), u); err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionUpdate, "admin_user", u.Email,
		map[string]any{"role": u.Role, "active": u.Active})
	api.WriteMessage(w, http.StatusOK, "user updated", viewUser(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	u, err := s.st.Users.GetByID(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if err := s.st.Users.Delete(r.Context(), id); err != nil {
		api.WriteError(w, err)
		return
	}

	s.record(r, audit.ActionDelete, "admin_user", u.Email, nil)
	api.WriteMessage(w, http.StatusOK, "user deleted", nil)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := decode(r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	p := auth.GetPrincipal(r.Context())
	if err := s.auth.ResetPassword(r.Context(), p, id, req.NewPassword, requestMeta(r)); err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteMessage(w, http.StatusOK, "password reset", nil)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.Users.Stats(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, stats)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	f := store.AuditFilter{
		Action:   r.URL.Query().Get("action"),
		Resource: r.URL.Query().Get("resource"),
	}
	if v := r.URL.Query().Get("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			api.WriteError(w, errs.Validation("invalid filter", "userId must be an integer"))
			return
		}
		f.UserID = &id
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteError(w, errs.Validation("invalid filter", "since must be RFC 3339"))
			return
		}
		f.Since = &ts
	}

	entries, err := s.st.Audit.List(r.Context(), f, pagination(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, entries)
}
