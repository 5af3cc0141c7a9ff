package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuspilot/backend/internal/models"
)

// TokenPair carries the plaintext credentials handed to a client: a signed
// access token and an opaque refresh secret that exists nowhere else.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionIssuer mints access/refresh pairs and owns the only place where the
// token model touches the transport: the session cookies.
type SessionIssuer struct {
	jwt     *JWTService
	ledger  *TokenLedger
	cookies CookieConfig
}

// NewSessionIssuer composes the JWT service and token ledger.
func NewSessionIssuer(jwt *JWTService, ledger *TokenLedger, cookies CookieConfig) (*SessionIssuer, error) {
	if jwt == nil {
		return nil, errors.New("session issuer: jwt service is required")
	}
	if ledger == nil {
		return nil, errors.New("session issuer: token ledger is required")
	}

	return &SessionIssuer{jwt: jwt, ledger: ledger, cookies: cookies.withDefaults(jwt.AccessTokenTTL(), ledger.RefreshTokenTTL())}, nil
}

// IssuePair mints a fresh access token and refresh token for the user.
func (s *SessionIssuer) IssuePair(ctx context.Context, userID, ip string) (TokenPair, *models.RefreshToken, error) {
	refresh, record, err := s.ledger.Issue(ctx, userID, ip)
	if err != nil {
		return TokenPair{}, nil, err
	}

	access, err := s.jwt.GenerateAccessToken(userID)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session issuer: generate access token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, record, nil
}

// Rotate exchanges a presented refresh plaintext for a fresh pair, retiring
// the matched token. Ledger errors pass through untouched so callers can
// normalise them to a single unauthorized response.
func (s *SessionIssuer) Rotate(ctx context.Context, refreshPlaintext, ip string) (TokenPair, *models.RefreshToken, error) {
	newRefresh, successor, err := s.ledger.Rotate(ctx, refreshPlaintext, ip)
	if err != nil {
		return TokenPair{}, nil, err
	}

	access, err := s.jwt.GenerateAccessToken(successor.UserID)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session issuer: generate access token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: newRefresh}, successor, nil
}

// Cookies exposes the cookie configuration for the middleware layer.
func (s *SessionIssuer) Cookies() CookieConfig {
	return s.cookies
}
