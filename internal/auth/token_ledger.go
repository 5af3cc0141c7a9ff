package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/models"
	"github.com/campuspilot/backend/pkg/crypto"
	"github.com/campuspilot/backend/pkg/metrics"
)

const (
	// DefaultRefreshTokenTTL is the refresh token lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultRotationLookback bounds the candidate scan during rotation.
	// Tokens older than this are beyond any plausible refresh anyway (the TTL
	// is far shorter) and excluding them keeps the query cheap.
	DefaultRotationLookback = 30 * 24 * time.Hour
)

var (
	// ErrTokenNotFound indicates that no stored hash matches the candidate.
	ErrTokenNotFound = errors.New("refresh token: not found")
	// ErrTokenRevoked marks a token that was already revoked. A revoked token
	// presented again is the replay/theft-detection boundary.
	ErrTokenRevoked = errors.New("refresh token: revoked")
	// ErrTokenExpired signals that the matched token is past its expiry.
	ErrTokenExpired = errors.New("refresh token: expired")
)

// LedgerConfig describes tunable behaviour for the TokenLedger.
type LedgerConfig struct {
	RefreshTokenTTL  time.Duration
	RotationLookback time.Duration
	Clock            func() time.Time
}

// TokenLedger persists rotating refresh tokens as irreversible hashes and owns
// every state transition: issue, rotate, revoke, supersede-on-login, expiry
// cleanup. All mutations are single conditional updates, so concurrent callers
// racing on one token produce exactly one winner.
type TokenLedger struct {
	db       *gorm.DB
	ttl      time.Duration
	lookback time.Duration
	now      func() time.Time
}

// NewTokenLedger constructs a ledger backed by the provided database.
func NewTokenLedger(db *gorm.DB, cfg LedgerConfig) (*TokenLedger, error) {
	if db == nil {
		return nil, errors.New("token ledger: db is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	lookback := cfg.RotationLookback
	if lookback <= 0 {
		lookback = DefaultRotationLookback
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &TokenLedger{
		db:       db,
		ttl:      ttl,
		lookback: lookback,
		now:      clock,
	}, nil
}

// RefreshTokenTTL exposes the configured refresh token lifetime.
func (l *TokenLedger) RefreshTokenTTL() time.Duration {
	return l.ttl
}

// Issue creates a new active token for the user and returns the plaintext
// secret exactly once; only its hash and lookup prefix are persisted.
func (l *TokenLedger) Issue(ctx context.Context, userID, ip string) (string, *models.RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("token ledger: user id is required")
	}

	plaintext, err := crypto.GenerateRefreshSecret()
	if err != nil {
		return "", nil, fmt.Errorf("token ledger: generate secret: %w", err)
	}

	hash, err := crypto.HashSecret(plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("token ledger: hash secret: %w", err)
	}

	now := l.now()
	token := &models.RefreshToken{
		UserID:      userID,
		TokenHash:   hash,
		Lookup:      crypto.LookupPrefix(plaintext),
		ExpiresAt:   now.Add(l.ttl),
		CreatedByIP: strings.TrimSpace(ip),
	}

	if err := l.db.WithContext(ctx).Create(token).Error; err != nil {
		return "", nil, fmt.Errorf("token ledger: create token: %w", err)
	}

	metrics.ActiveRefreshTokens.Inc()

	return plaintext, token, nil
}

// Rotate retires the token matching the candidate plaintext and issues its
// successor, linking the two via replaced_by. Exactly one of two concurrent
// rotations with the same plaintext succeeds; the loser sees ErrTokenRevoked.
func (l *TokenLedger) Rotate(ctx context.Context, plaintext, ip string) (string, *models.RefreshToken, error) {
	matched, err := l.match(ctx, plaintext)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("rejected").Inc()
		return "", nil, err
	}

	if err := l.revokeByID(ctx, matched, ip); err != nil {
		metrics.TokenRotations.WithLabelValues("rejected").Inc()
		return "", nil, err
	}

	newPlaintext, successor, err := l.Issue(ctx, matched.UserID, ip)
	if err != nil {
		return "", nil, err
	}

	if err := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("id = ?", matched.ID).
		Update("replaced_by_id", successor.ID).Error; err != nil {
		return "", nil, fmt.Errorf("token ledger: link successor: %w", err)
	}

	metrics.TokenRotations.WithLabelValues("success").Inc()
	return newPlaintext, successor, nil
}

// Revoke retires the token matching the candidate plaintext without issuing a
// replacement. Used by logout and password reset.
func (l *TokenLedger) Revoke(ctx context.Context, plaintext, ip string) error {
	matched, err := l.match(ctx, plaintext)
	if err != nil {
		return err
	}
	return l.revokeByID(ctx, matched, ip)
}

// SupersedeOnLogin revokes every active token of the user except the freshly
// issued one and links all revoked-but-unlinked tokens to it, keeping the
// rotation chain connected for audit purposes.
func (l *TokenLedger) SupersedeOnLogin(ctx context.Context, userID, successorID, ip string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(successorID) == "" {
		return errors.New("token ledger: user id and successor id are required")
	}

	now := l.now()

	result := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND id <> ? AND revoked_at IS NULL", userID, successorID).
		Updates(map[string]any{
			"revoked_at":    now,
			"revoked_by_ip": strings.TrimSpace(ip),
		})
	if result.Error != nil {
		return fmt.Errorf("token ledger: supersede active tokens: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveRefreshTokens.Sub(float64(result.RowsAffected))
	}

	if err := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND id <> ? AND revoked_at IS NOT NULL AND replaced_by_id IS NULL", userID, successorID).
		Update("replaced_by_id", successorID).Error; err != nil {
		return fmt.Errorf("token ledger: link superseded tokens: %w", err)
	}

	return nil
}

// RevokeAllForUser retires every active token of the user. Used when a
// password reset must kill stolen sessions.
func (l *TokenLedger) RevokeAllForUser(ctx context.Context, userID, ip string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("token ledger: user id is required")
	}

	result := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at":    l.now(),
			"revoked_by_ip": strings.TrimSpace(ip),
		})
	if result.Error != nil {
		return fmt.Errorf("token ledger: revoke user tokens: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveRefreshTokens.Sub(float64(result.RowsAffected))
	}

	return nil
}

// CleanupExpired hard-deletes tokens past their expiry, regardless of
// revocation state. This mirrors a document-store TTL index: expiry is a
// physical reclaim, not a soft flag.
func (l *TokenLedger) CleanupExpired(ctx context.Context) (int64, error) {
	now := l.now()

	var activeExpired int64
	if err := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("token ledger: count expired tokens: %w", err)
	}

	result := l.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("token ledger: cleanup expired tokens: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveRefreshTokens.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

// match finds the stored token whose hash matches the candidate plaintext.
// Only hashes are stored, so the candidate is compared against the working set
// of recently created tokens; the non-secret lookup prefix narrows that set to
// a handful of rows before any bcrypt comparison runs.
func (l *TokenLedger) match(ctx context.Context, plaintext string) (*models.RefreshToken, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return nil, ErrTokenNotFound
	}

	now := l.now()

	var candidates []models.RefreshToken
	if err := l.db.WithContext(ctx).
		Where("lookup = ? AND created_at > ?", crypto.LookupPrefix(plaintext), now.Add(-l.lookback)).
		Order("created_at DESC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("token ledger: load candidates: %w", err)
	}

	for i := range candidates {
		token := &candidates[i]
		if !crypto.VerifySecret(token.TokenHash, plaintext) {
			continue
		}

		if token.RevokedAt != nil {
			return nil, ErrTokenRevoked
		}
		if !token.ExpiresAt.After(now) {
			return nil, ErrTokenExpired
		}
		return token, nil
	}

	return nil, ErrTokenNotFound
}

// revokeByID marks the token revoked, conditional on it still being active.
// The condition makes revocation the atomic step every transition hinges on.
func (l *TokenLedger) revokeByID(ctx context.Context, token *models.RefreshToken, ip string) error {
	result := l.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", token.ID).
		Updates(map[string]any{
			"revoked_at":    l.now(),
			"revoked_by_ip": strings.TrimSpace(ip),
		})
	if result.Error != nil {
		return fmt.Errorf("token ledger: revoke token: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// A concurrent request won the race and revoked it first.
		return ErrTokenRevoked
	}

	metrics.ActiveRefreshTokens.Dec()
	return nil
}
