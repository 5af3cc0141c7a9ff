package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	iauth "github.com/campuspilot/backend/internal/auth"
	"github.com/campuspilot/backend/internal/services"
	apperrors "github.com/campuspilot/backend/pkg/errors"
	"github.com/campuspilot/backend/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
	CtxUserIDKey    = "userID"
)

// Principal is the authenticated identity attached to a request after the
// session cookies have been validated.
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Auth authenticates requests from the session cookies. A valid access token
// is accepted as-is. An access token that failed only because it expired
// falls through to refresh rotation: the refresh cookie is exchanged for a
// fresh pair and the new cookies are written on the same response, so
// well-behaved clients never observe the 60 second expiry. Any other
// validation failure, or a missing/rejected refresh token, ends the session
// with 401 and cleared cookies.
func Auth(jwt *iauth.JWTService, issuer *iauth.SessionIssuer, roles *services.RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, err := c.Cookie(iauth.AccessTokenCookie)
		if err == nil && access != "" {
			claims, vErr := jwt.ValidateAccessToken(access)
			if vErr == nil {
				attachPrincipal(c, roles, claims.UserID)
				return
			}
			if !errors.Is(vErr, iauth.ErrAccessTokenExpired) {
				// Malformed or tampered tokens never reach the ledger.
				reject(c, issuer)
				return
			}
		}

		refresh, err := c.Cookie(iauth.RefreshTokenCookie)
		if err != nil || refresh == "" {
			reject(c, issuer)
			return
		}

		pair, record, err := issuer.Rotate(c.Request.Context(), refresh, c.ClientIP())
		if err != nil {
			reject(c, issuer)
			return
		}

		issuer.WriteSessionCookies(c, pair)
		attachPrincipal(c, roles, record.UserID)
	}
}

// RequireRole gates a route on membership of a single role. It must run after
// Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !principal.HasRole(role) {
			response.Error(c, apperrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the principal attached by Auth, if any.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := v.(Principal)
	return principal, ok
}

func attachPrincipal(c *gin.Context, roles *services.RoleResolver, userID string) {
	names, err := roles.RolesForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		c.Abort()
		return
	}

	c.Set(CtxPrincipalKey, Principal{UserID: userID, Roles: names})
	c.Set(CtxUserIDKey, userID)
	c.Next()
}

func reject(c *gin.Context, issuer *iauth.SessionIssuer) {
	issuer.ClearSessionCookies(c)
	c.Header("WWW-Authenticate", "Cookie")
	response.Error(c, apperrors.ErrUnauthorized)
	c.Abort()
}
