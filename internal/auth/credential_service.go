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
)

var (
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("credentials: email already registered")
	// ErrInvalidRole marks a registration role hint outside the allow-list.
	ErrInvalidRole = errors.New("credentials: invalid role")
	// ErrInvalidCredentials is returned when the email/password pair does not match.
	ErrInvalidCredentials = errors.New("credentials: invalid email or password")
	// ErrAccountInactive signals a login attempt before email verification.
	ErrAccountInactive = errors.New("credentials: email not verified")
)

// CredentialConfig defines tunable behaviour for the CredentialService.
type CredentialConfig struct {
	Clock func() time.Time
}

// RegisterInput captures the details required to register a new account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	IP       string
}

// CredentialService owns the password secret and activation flag of every
// account. Passwords are stored only as bcrypt hashes.
type CredentialService struct {
	db    *gorm.DB
	otp   *OTPService
	clock func() time.Time
}

// NewCredentialService builds the service with its OTP collaborator.
func NewCredentialService(db *gorm.DB, otp *OTPService, cfg CredentialConfig) (*CredentialService, error) {
	if db == nil {
		return nil, errors.New("credential service: db is required")
	}
	if otp == nil {
		return nil, errors.New("credential service: otp service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &CredentialService{db: db, otp: otp, clock: clock}, nil
}

// Register creates an inactive account and issues its email-verification code.
// The first account ever created silently becomes the administrator; everyone
// after that must pick a role from the registration allow-list.
func (s *CredentialService) Register(ctx context.Context, input RegisterInput) (*models.User, string, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if name == "" || email == "" || input.Password == "" {
		return nil, "", errors.New("credential service: name, email and password are required")
	}

	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return nil, "", ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("credential service: check email: %w", err)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, "", fmt.Errorf("credential service: count accounts: %w", err)
	}

	roleName := strings.TrimSpace(input.Role)
	if total == 0 {
		roleName = models.RoleAdmin
	} else if !models.IsRegistrationRole(roleName) {
		return nil, "", ErrInvalidRole
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, "", fmt.Errorf("credential service: hash password: %w", err)
	}

	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		IsActive: false,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		var role models.Role
		if err := tx.Where("name = ?", roleName).Take(&role).Error; err != nil {
			return fmt.Errorf("load role %q: %w", roleName, err)
		}

		if err := tx.Model(user).Association("Roles").Append(&role); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		return nil
	}); err != nil {
		return nil, "", fmt.Errorf("credential service: register: %w", err)
	}

	code, err := s.otp.Issue(ctx, user, models.OTPPurposeEmailVerification, input.IP)
	if err != nil {
		return nil, "", err
	}

	return user, code, nil
}

// VerifyPassword checks the email/password pair. An unknown email and a wrong
// password are indistinguishable to the caller; an unverified account is a
// distinct failure so login never proceeds to token issuance either way.
func (s *CredentialService) VerifyPassword(ctx context.Context, email, password, ip string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("credential service: load account: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	now := s.clock()
	user.LastLoginAt = &now
	user.LastLoginIP = strings.TrimSpace(ip)
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": user.LastLoginIP,
	}).Error; err != nil {
		return nil, fmt.Errorf("credential service: record login: %w", err)
	}

	return &user, nil
}

// FindByEmail loads an account by its case-insensitive email.
func (s *CredentialService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").Where("email = ?", email).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads an account with its roles.
func (s *CredentialService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Activate marks the account verified. Idempotent.
func (s *CredentialService) Activate(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("credential service: user id is required")
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_active", true).Error; err != nil {
		return fmt.Errorf("credential service: activate account: %w", err)
	}
	return nil
}

// SetPassword replaces the stored hash. Revoking existing sessions is the
// caller's responsibility; the reset flow does so through the token ledger.
func (s *CredentialService) SetPassword(ctx context.Context, userID, newPassword string) error {
	if strings.TrimSpace(userID) == "" || newPassword == "" {
		return errors.New("credential service: user id and new password are required")
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("credential service: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("password", hashed).Error; err != nil {
		return fmt.Errorf("credential service: update password: %w", err)
	}
	return nil
}
