package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names shared with browser clients.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieConfig controls the attributes of the two session cookies. Secure is
// expected to be true in production; SameSite defaults to Lax.
type CookieConfig struct {
	Domain     string
	Path       string
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) withDefaults(accessTTL, refreshTTL time.Duration) CookieConfig {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = accessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = refreshTTL
	}
	return c
}

// WriteSessionCookies writes both token values as HTTP-only cookies with
// max-ages matching each token's lifetime. This is a pure transport write; no
// business logic belongs here.
func (s *SessionIssuer) WriteSessionCookies(c *gin.Context, pair TokenPair) {
	cfg := s.cookies
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(AccessTokenCookie, pair.AccessToken, int(cfg.AccessTTL.Seconds()), cfg.Path, cfg.Domain, cfg.Secure, true)
	c.SetCookie(RefreshTokenCookie, pair.RefreshToken, int(cfg.RefreshTTL.Seconds()), cfg.Path, cfg.Domain, cfg.Secure, true)
}

// ClearSessionCookies expires both session cookies.
func (s *SessionIssuer) ClearSessionCookies(c *gin.Context) {
	cfg := s.cookies
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(AccessTokenCookie, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}
