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
	"github.com/campuspilot/backend/pkg/mail"
	"github.com/campuspilot/backend/pkg/metrics"
)

const (
	// DefaultOTPTTL is how long an issued code stays verifiable.
	DefaultOTPTTL = 10 * time.Minute

	// DefaultOTPIssueCap bounds issuance per (user, purpose) within the rolling
	// window; exceeding it is a client error, not a retryable fault.
	DefaultOTPIssueCap = 5

	// DefaultOTPIssueWindow is the rolling window the cap applies to.
	DefaultOTPIssueWindow = 10 * time.Minute
)

var (
	// ErrOTPNotFound indicates no unused, unexpired challenge exists.
	ErrOTPNotFound = errors.New("otp: no matching challenge")
	// ErrOTPMismatch signals that the candidate code does not match the hash.
	ErrOTPMismatch = errors.New("otp: code mismatch")
	// ErrOTPRateLimited marks an issuance past the rolling cap.
	ErrOTPRateLimited = errors.New("otp: issuance cap exceeded")
)

// OTPConfig describes tunable behaviour for the OTPService.
type OTPConfig struct {
	TTL         time.Duration
	IssueCap    int
	IssueWindow time.Duration
	Clock       func() time.Time
	Mailer      mail.Mailer
}

// OTPService issues, stores, and verifies single-use numeric codes for email
// verification and password reset. Codes are persisted only as bcrypt hashes;
// at most one unused challenge exists per (user, purpose).
type OTPService struct {
	db     *gorm.DB
	mailer mail.Mailer
	ttl    time.Duration
	cap    int
	window time.Duration
	now    func() time.Time
}

// NewOTPService constructs an OTP manager backed by the provided database.
func NewOTPService(db *gorm.DB, cfg OTPConfig) (*OTPService, error) {
	if db == nil {
		return nil, errors.New("otp service: db is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}

	issueCap := cfg.IssueCap
	if issueCap <= 0 {
		issueCap = DefaultOTPIssueCap
	}

	window := cfg.IssueWindow
	if window <= 0 {
		window = DefaultOTPIssueWindow
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &OTPService{
		db:     db,
		mailer: cfg.Mailer,
		ttl:    ttl,
		cap:    issueCap,
		window: window,
		now:    clock,
	}, nil
}

// Issue generates a six-digit code for the user and purpose, superseding any
// unused challenge of the same purpose. The plaintext code is returned to the
// caller for delivery; only its hash is stored. The rolling issuance cap is
// carried forward onto the replacement row so superseding a code never resets
// the count.
func (s *OTPService) Issue(ctx context.Context, user *models.User, purpose models.OTPPurpose, ip string) (string, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("otp service: user is required")
	}

	now := s.now()

	var previous models.OTPChallenge
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND used_at IS NULL", user.ID, purpose).
		Order("created_at DESC").
		First(&previous).Error
	hasPrevious := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("otp service: load previous challenge: %w", err)
	}

	resendCount := 1
	windowStart := now
	if hasPrevious && previous.WindowStartedAt.After(now.Add(-s.window)) {
		if previous.ResendCount >= s.cap {
			return "", ErrOTPRateLimited
		}
		resendCount = previous.ResendCount + 1
		windowStart = previous.WindowStartedAt
	}

	code, err := crypto.GenerateOTPCode()
	if err != nil {
		return "", fmt.Errorf("otp service: generate code: %w", err)
	}

	hash, err := crypto.HashSecret(code)
	if err != nil {
		return "", fmt.Errorf("otp service: hash code: %w", err)
	}

	if hasPrevious {
		if err := s.db.WithContext(ctx).Delete(&models.OTPChallenge{}, "id = ?", previous.ID).Error; err != nil {
			return "", fmt.Errorf("otp service: supersede previous challenge: %w", err)
		}
	}

	challenge := models.OTPChallenge{
		UserID:          user.ID,
		Purpose:         purpose,
		CodeHash:        hash,
		ExpiresAt:       now.Add(s.ttl),
		ResendCount:     resendCount,
		WindowStartedAt: windowStart,
		IssuedByIP:      strings.TrimSpace(ip),
	}

	if err := s.db.WithContext(ctx).Create(&challenge).Error; err != nil {
		return "", fmt.Errorf("otp service: create challenge: %w", err)
	}

	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()

	if s.mailer != nil {
		msg := mail.Message{
			To:      user.Email,
			Subject: subjectFor(purpose),
			Body:    bodyFor(purpose, user.Name, code, s.ttl),
		}
		if mailErr := s.mailer.Send(ctx, msg); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return "", fmt.Errorf("otp service: send code: %w", mailErr)
		}
	}

	return code, nil
}

// Verify checks the candidate against the most recent unused challenge and
// consumes it on success. Consumption is conditional on the challenge still
// being unused, so two concurrent verifications produce exactly one winner.
func (s *OTPService) Verify(ctx context.Context, userID string, purpose models.OTPPurpose, code string) error {
	challenge, err := s.lookup(ctx, userID, purpose, code)
	if err != nil {
		return err
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.OTPChallenge{}).
		Where("id = ? AND used_at IS NULL", challenge.ID).
		Update("used_at", now)
	if result.Error != nil {
		return fmt.Errorf("otp service: consume challenge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// A concurrent verification consumed it first.
		return ErrOTPNotFound
	}

	return nil
}

// Check validates the candidate without consuming the challenge. The password
// reset flow uses it for its middle step, leaving consumption to the final
// set-new-password request.
func (s *OTPService) Check(ctx context.Context, userID string, purpose models.OTPPurpose, code string) error {
	_, err := s.lookup(ctx, userID, purpose, code)
	return err
}

// CleanupExpired hard-deletes challenges past their TTL regardless of use, the
// analogue of a document-store TTL index. Stale codes cannot be resurrected.
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.OTPChallenge{})
	if result.Error != nil {
		return 0, fmt.Errorf("otp service: cleanup expired challenges: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *OTPService) lookup(ctx context.Context, userID string, purpose models.OTPPurpose, code string) (*models.OTPChallenge, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return nil, ErrOTPNotFound
	}

	var challenge models.OTPChallenge
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND used_at IS NULL", userID, purpose).
		Order("created_at DESC").
		First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("otp service: load challenge: %w", err)
	}

	if challenge.Expired(s.now()) {
		return nil, ErrOTPNotFound
	}

	if !crypto.VerifySecret(challenge.CodeHash, code) {
		if err := s.db.WithContext(ctx).
			Model(&models.OTPChallenge{}).
			Where("id = ?", challenge.ID).
			Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return nil, fmt.Errorf("otp service: record failed attempt: %w", err)
		}
		return nil, ErrOTPMismatch
	}

	return &challenge, nil
}

func subjectFor(purpose models.OTPPurpose) string {
	switch purpose {
	case models.OTPPurposePasswordReset:
		return "CampusPilot password reset code"
	default:
		return "Confirm your CampusPilot account"
	}
}

func bodyFor(purpose models.OTPPurpose, name, code string, ttl time.Duration) string {
	action := "confirm your email address"
	if purpose == models.OTPPurposePasswordReset {
		action = "reset your password"
	}
	return fmt.Sprintf(
		"Hello %s,\n\nUse the code below to %s. It expires in %d minutes.\n\n\t%s\n\nIf you did not request this, you can ignore this message.\n",
		name, action, int(ttl.Minutes()), code,
	)
}
