package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RefreshClaims are carried by refresh tokens. TokenType guards against an
// access token being replayed on the refresh endpoint.
type RefreshClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// RefreshJTI is persisted on the user row; a refresh presenting any
	// other jti is rejected.
	RefreshJTI string `json:"-"`
}

// TokenService signs and verifies HS256 tokens with the server secret.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a service with the default lifetimes.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}
}

// IssuePair signs a fresh access and refresh token for the user.
func (t *TokenService) IssuePair(u *store.AdminUser) (*TokenPair, error) {
	now := t.now()
	jti := uuid.NewString()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatUserID(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
		Email: u.Email,
		Role:  u.Role,
	})
	accessStr, err := access.SignedString(t.secret)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "auth: sign access token", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatUserID(u.ID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
		TokenType: "refresh",
	})
	refreshStr, err := refresh.SignedString(t.secret)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "auth: sign refresh token", err)
	}

	return &TokenPair{AccessToken: accessStr, RefreshToken: refreshStr, RefreshJTI: jti}, nil
}

// VerifyAccess parses an access token. Any signature, expiry, or shape
// problem maps to a 401-class error.
func (t *TokenService) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, errs.Wrap(errs.KindAuth, "invalid or expired access token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errs.New(errs.KindAuth, "invalid access token")
	}
	return claims, nil
}

// VerifyRefresh parses a refresh token and enforces the refresh type claim.
func (t *TokenService) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, errs.Wrap(errs.KindAuth, "invalid or expired refresh token", err)
	}
	if !token.Valid || claims.TokenType != "refresh" || claims.Subject == "" || claims.ID == "" {
		return nil, errs.New(errs.KindAuth, "invalid refresh token")
	}
	return claims, nil
}

func (t *TokenService) keyFunc(*jwt.Token) (any, error) {
	return t.secret, nil
}
