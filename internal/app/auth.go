package app

import (
	"net/http"
	"strings"

	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/token"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// issueToken exchanges credentials for an access/refresh token pair.
func (a *App) issueToken(c *Ctx) (any, error) {
	if a.credentials == nil {
		return nil, &apperrors.ServiceError{
			Code:       apperrors.CodeInternal,
			Message:    "credential validation is not configured",
			HTTPStatus: http.StatusNotImplemented,
		}
	}

	var req tokenRequest
	if err := c.DecodeJSON(&req); err != nil {
		return nil, err
	}
	if req.Username == "" || req.Password == "" {
		return nil, apperrors.BadRequest("username and password are required")
	}

	identity, scope, err := a.credentials(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		a.Log.LogSecurityEvent(c.Request.Context(), "credential_rejected", map[string]any{
			"username": req.Username,
		})
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	pair, err := a.Tokens.Issue(c.Request.Context(), identity, token.IssueOptions{
		Refresh: true,
		Scope:   scope,
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// refreshToken exchanges a refresh token for a fresh pair.
func (a *App) refreshToken(c *Ctx) (any, error) {
	raw := bearerToken(c.Request)
	if raw == "" {
		var req refreshRequest
		if err := c.DecodeJSON(&req); err != nil {
			return nil, apperrors.Unauthorized("refresh token required")
		}
		raw = req.RefreshToken
	}
	if raw == "" {
		return nil, apperrors.Unauthorized("refresh token required")
	}
	pair, err := a.Tokens.Refresh(c.Request.Context(), raw)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

type revokeRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// revokeToken adds the presented tokens to the deny list. The body may
// carry an access token, a refresh token, or both; without a body the
// bearer header is revoked.
func (a *App) revokeToken(c *Ctx) (any, error) {
	var req revokeRequest
	_ = c.DecodeJSON(&req)

	tokens := make([]string, 0, 2)
	if req.AccessToken != "" {
		tokens = append(tokens, req.AccessToken)
	}
	if req.RefreshToken != "" {
		tokens = append(tokens, req.RefreshToken)
	}
	if len(tokens) == 0 {
		if raw := bearerToken(c.Request); raw != "" {
			tokens = append(tokens, raw)
		}
	}
	if len(tokens) == 0 {
		return nil, apperrors.Unauthorized("no token presented")
	}

	for _, raw := range tokens {
		if err := a.Tokens.Revoke(c.Request.Context(), raw); err != nil {
			return nil, err
		}
	}
	a.Log.LogSecurityEvent(c.Request.Context(), "token_revoked", map[string]any{
		"count": len(tokens),
	})
	return http.StatusNoContent, nil
}

// checkToken introspects the presented token.
func (a *App) checkToken(c *Ctx) (any, error) {
	raw := bearerToken(c.Request)
	if raw == "" {
		return nil, apperrors.Unauthorized("bearer token required")
	}
	dump, err := a.Tokens.Dump(c.Request.Context(), raw)
	if err != nil {
		return nil, err
	}
	return dump, nil
}

// RequireToken is a before-handler guard extensions can wrap their routes
// with: it verifies the bearer token and returns the claims.
func (a *App) RequireToken(c *Ctx) (*token.Claims, error) {
	raw := bearerToken(c.Request)
	if raw == "" {
		return nil, apperrors.Unauthorized("bearer token required").
			WithHeader("WWW-Authenticate", `Bearer realm="vessel"`)
	}
	claims, err := a.Tokens.Verify(c.Request.Context(), raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != token.TypeAccess {
		return nil, apperrors.Unauthorized("access token required")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
