package auth

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

// RequestMeta carries the caller address and agent for audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	Tokens *TokenPair
	User   *store.AdminUser
}

// Service implements login, refresh rotation, and password changes.
type Service struct {
	st       *store.Store
	tokens   *TokenService
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService wires the auth service.
func NewService(st *store.Store, tokens *TokenService, recorder *audit.Recorder) *Service {
	return &Service{
		st:       st,
		tokens:   tokens,
		recorder: recorder,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Login verifies credentials and issues a token pair. Both outcomes are
// audited; the failure entry never includes the password.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.st.Users.GetByEmail(ctx, email)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			s.auditLogin(ctx, nil, email, false, meta)
			return nil, errs.New(errs.KindAuth, "invalid email or password")
		}
		return nil, err
	}
	if !u.Active || !VerifyPassword(u.PasswordHash, password) {
		s.auditLogin(ctx, &u.ID, email, false, meta)
		return nil, errs.New(errs.KindAuth, "invalid email or password")
	}

	pair, err := s.tokens.IssuePair(u)
	if err != nil {
		return nil, err
	}
	if err := s.st.Users.TouchLogin(ctx, u.ID, pair.RefreshJTI); err != nil {
		return nil, err
	}

	s.auditLogin(ctx, &u.ID, email, true, meta)
	s.logger.Info("login", "user_id", u.ID, "email", email)
	return &LoginResult{Tokens: pair, User: u}, nil
}

// Refresh rotates a refresh token. The presented token must carry the jti
// currently persisted on the user row; a stale token is rejected and cannot
// be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	userID, err := parseUserID(claims.Subject)
	if err != nil {
		return nil, errs.New(errs.KindAuth, "invalid refresh token")
	}

	u, err := s.st.Users.GetByID(ctx, userID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.New(errs.KindAuth, "invalid refresh token")
		}
		return nil, err
	}
	if !u.Active {
		return nil, errs.New(errs.KindAuth, "account is disabled")
	}

	pair, err := s.tokens.IssuePair(u)
	if err != nil {
		return nil, err
	}
	// Atomic swap: succeeds only while the presented jti is still current.
	if err := s.st.Users.RotateRefresh(ctx, u.ID, claims.ID, pair.RefreshJTI); err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair, User: u}, nil
}

// ChangePassword verifies the caller's current password and applies the
// policy to the new one. All refresh tokens are invalidated.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, newPassword string, meta RequestMeta) error {
	u, err := s.st.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !VerifyPassword(u.PasswordHash, current) {
		return errs.New(errs.KindAuth, "current password is incorrect")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.st.Users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Event{
		UserID:     &p.UserID,
		Action:     audit.ActionChangePassword,
		Resource:   "admin_users",
		ResourceID: formatUserID(u.ID),
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// ResetPassword sets a target user's password without the current-password
// check. The caller must hold update:users or delete:users.
func (s *Service) ResetPassword(ctx context.Context, p *Principal, targetID int64, newPassword string, meta RequestMeta) error {
	if !p.HasAny(PermUpdateUsers, PermDeleteUsers) {
		return errs.New(errs.KindForbidden, "missing permission to reset passwords")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.st.Users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.st.Users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Event{
		UserID:     &p.UserID,
		Action:     audit.ActionResetPassword,
		Resource:   "admin_users",
		ResourceID: formatUserID(u.ID),
		Details:    map[string]any{"target_email": u.Email},
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *Service) auditLogin(ctx context.Context, userID *int64, email string, success bool, meta RequestMeta) {
	s.recorder.Record(ctx, audit.Event{
		UserID:    userID,
		Action:    audit.ActionLogin,
		Resource:  "admin_users",
		Details:   map[string]any{"email": email, "success": success},
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

func formatUserID(id int64) string { return strconv.FormatInt(id, 10) }

func parseUserID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
