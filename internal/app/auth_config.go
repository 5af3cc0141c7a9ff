package app

import (
	"net/http"
	"strings"

	iauth "github.com/campuspilot/backend/internal/auth"
	"github.com/campuspilot/backend/internal/database"
	"github.com/campuspilot/backend/pkg/mail"
)

// JWTConfig converts the auth settings to the JWT service representation.
func (c AuthConfig) JWTConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
	}
}

// LedgerConfig converts the auth settings to the token ledger representation.
func (c AuthConfig) LedgerConfig() iauth.LedgerConfig {
	return iauth.LedgerConfig{
		RefreshTokenTTL:  c.RefreshToken.TTL,
		RotationLookback: c.RefreshToken.RotationLookback,
	}
}

// OTPConfig converts the auth settings to the OTP service representation.
// The mailer is wired separately during bootstrap.
func (c AuthConfig) OTPConfig() iauth.OTPConfig {
	return iauth.OTPConfig{
		TTL:         c.OTP.TTL,
		IssueCap:    c.OTP.IssueCap,
		IssueWindow: c.OTP.IssueWindow,
	}
}

// CookieConfig converts cookie settings to the session issuer representation.
func (c AuthConfig) CookieConfig() iauth.CookieConfig {
	return iauth.CookieConfig{
		Domain:   c.Cookies.Domain,
		Path:     c.Cookies.Path,
		Secure:   c.Cookies.Secure,
		SameSite: parseSameSite(c.Cookies.SameSite),
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// DatabaseSettings converts the database section to the database package representation.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	return database.Config{
		Driver:   c.Driver,
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
	}
}

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
