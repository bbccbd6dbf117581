// Package token implements the JWT lifecycle: issue, refresh, verify,
// revoke and introspect, with a pluggable deny-list store.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vesselkit/vessel/internal/config"
	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
)

// Token types.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the JWT payload. A token is valid iff the signature
// verifies, it has not expired, and its jti is not on the deny list.
type Claims struct {
	Type  string `json:"type"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Pair is the issue/refresh result.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	IssuedAt     int64  `json:"issued_at"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// DenyList records revoked token identifiers until their natural
// expiry.
type DenyList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service issues and verifies tokens. The signing key is read-only
// after startup; Service is safe for concurrent use.
type Service struct {
	secret         []byte
	issuer         string
	tokenType      string
	accessExpires  time.Duration
	refreshExpires time.Duration
	denyList       DenyList
	log            *logging.Logger
	now            func() time.Time
}

// New creates a token service from configuration.
func New(cfg config.JWTConfig, denyList DenyList, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.NewNop()
	}
	secret, err := resolveSecret(cfg)
	if err != nil {
		return nil, err
	}
	tokenType := cfg.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	accessExpires := cfg.AccessExpires
	if accessExpires <= 0 {
		accessExpires = time.Hour
	}
	refreshExpires := cfg.RefreshExpires
	if refreshExpires <= 0 {
		refreshExpires = 30 * 24 * time.Hour
	}
	return &Service{
		secret:         secret,
		issuer:         cfg.Issuer,
		tokenType:      tokenType,
		accessExpires:  accessExpires,
		refreshExpires: refreshExpires,
		denyList:       denyList,
		log:            log,
		now:            time.Now,
	}, nil
}

// resolveSecret returns the configured secret, or loads/generates the
// persisted secret file when none is configured.
func resolveSecret(cfg config.JWTConfig) ([]byte, error) {
	if cfg.SecretKey != "" {
		return []byte(cfg.SecretKey), nil
	}
	if cfg.SecretKeyFile == "" {
		return nil, fmt.Errorf("token: no secret key configured")
	}
	if data, err := os.ReadFile(cfg.SecretKeyFile); err == nil && len(data) > 0 {
		return data, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("token: generate secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(raw))
	if err := os.WriteFile(cfg.SecretKeyFile, secret, 0o600); err != nil {
		return nil, fmt.Errorf("token: persist secret: %w", err)
	}
	return secret, nil
}

// IssueOptions tunes a single Issue call. Zero durations fall back to
// the configured expirations.
type IssueOptions struct {
	Refresh        bool
	AccessExpires  time.Duration
	RefreshExpires time.Duration
	Scope          string
}

// Issue mints an access token for identity, plus a refresh token when
// requested.
func (s *Service) Issue(_ context.Context, identity string, opts IssueOptions) (*Pair, error) {
	now := s.now()
	accessExpires := opts.AccessExpires
	if accessExpires <= 0 {
		accessExpires = s.accessExpires
	}

	access, err := s.sign(identity, TypeAccess, opts.Scope, now, accessExpires)
	if err != nil {
		return nil, err
	}
	pair := &Pair{
		AccessToken: access,
		ExpiresIn:   int64(accessExpires.Seconds()),
		IssuedAt:    now.Unix(),
		TokenType:   s.tokenType,
		Scope:       opts.Scope,
	}

	if opts.Refresh {
		refreshExpires := opts.RefreshExpires
		if refreshExpires <= 0 {
			refreshExpires = s.refreshExpires
		}
		refresh, err := s.sign(identity, TypeRefresh, opts.Scope, now, refreshExpires)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refresh
	}
	return pair, nil
}

func (s *Service) sign(identity, tokenType, scope string, now time.Time, expires time.Duration) (string, error) {
	claims := &Claims{
		Type:  tokenType,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expires)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Refresh exchanges a valid refresh token for a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := s.Verify(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "refresh token required")
	}
	return s.Issue(ctx, claims.Subject, IssueOptions{Scope: claims.Scope})
}

// Verify parses and validates a token: signature, expiry, deny list.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperrors.ExpiredToken()
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, apperrors.InvalidToken(err).WithDetails("reason", "malformed")
		default:
			return nil, apperrors.InvalidToken(err)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperrors.InvalidToken(nil)
	}

	if s.denyList != nil && claims.ID != "" {
		revoked, err := s.denyList.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Error("deny list lookup")
			return nil, apperrors.Internal("deny list unavailable", err)
		}
		if revoked {
			return nil, apperrors.RevokedToken()
		}
	}
	return claims, nil
}

// Revoke adds the token's jti to the deny list for the remainder of its
// lifetime. Revoking an already-invalid token fails with the
// verification error.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.Verify(ctx, tokenString)
	if err != nil {
		return err
	}
	if s.denyList == nil {
		return fmt.Errorf("token: no deny list configured")
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.denyList.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("token: revoke %s: %w", claims.ID, err)
	}
	return nil
}

// Dump returns the introspection view of a valid token: token type,
// scope, and the registered claims.
func (s *Service) Dump(ctx context.Context, tokenString string) (map[string]any, error) {
	claims, err := s.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"token_type": s.tokenType,
		"type":       claims.Type,
		"jti":        claims.ID,
		"sub":        claims.Subject,
		"iat":        claims.IssuedAt.Unix(),
		"exp":        claims.ExpiresAt.Unix(),
	}
	if claims.Scope != "" {
		out["scope"] = claims.Scope
	}
	if claims.Issuer != "" {
		out["iss"] = claims.Issuer
	}
	return out, nil
}
