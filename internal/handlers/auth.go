package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/campuspilot/backend/internal/auth"
	"github.com/campuspilot/backend/internal/middleware"
	"github.com/campuspilot/backend/internal/models"
	"github.com/campuspilot/backend/internal/services"
	appErrors "github.com/campuspilot/backend/pkg/errors"
	"github.com/campuspilot/backend/pkg/logger"
	"github.com/campuspilot/backend/pkg/metrics"
	"github.com/campuspilot/backend/pkg/response"
)

// AuthHandler exposes the credential lifecycle over HTTP: registration,
// email verification, login, cookie refresh, logout, and the password reset
// flow. All session tokens travel exclusively in HTTP-only cookies.
type AuthHandler struct {
	credentials *iauth.CredentialService
	otp         *iauth.OTPService
	issuer      *iauth.SessionIssuer
	ledger      *iauth.TokenLedger
	roles       *services.RoleResolver
	audit       *services.AuditService

	// echoCodes returns issued OTP codes in responses. Development only;
	// production deployments deliver codes by email.
	echoCodes bool
}

// AuthHandlerConfig wires the handler's collaborators.
type AuthHandlerConfig struct {
	Credentials *iauth.CredentialService
	OTP         *iauth.OTPService
	Issuer      *iauth.SessionIssuer
	Ledger      *iauth.TokenLedger
	Roles       *services.RoleResolver
	Audit       *services.AuditService
	EchoCodes   bool
}

func NewAuthHandler(cfg AuthHandlerConfig) (*AuthHandler, error) {
	if cfg.Credentials == nil || cfg.OTP == nil || cfg.Issuer == nil || cfg.Ledger == nil {
		return nil, errors.New("auth handler: credentials, otp, issuer and ledger are required")
	}
	if cfg.Roles == nil || cfg.Audit == nil {
		return nil, errors.New("auth handler: role resolver and audit service are required")
	}
	return &AuthHandler{
		credentials: cfg.Credentials,
		otp:         cfg.OTP,
		issuer:      cfg.Issuer,
		ledger:      cfg.Ledger,
		roles:       cfg.Roles,
		audit:       cfg.Audit,
		echoCodes:   cfg.EchoCodes,
	}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, code, err := h.credentials.Register(requestContext(c), iauth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		IP:       c.ClientIP(),
	})
	if err != nil {
		h.recordAudit(c, nil, services.AuditActionRegister, services.AuditResultFailure, nil)
		switch {
		case errors.Is(err, iauth.ErrEmailTaken):
			response.Error(c, appErrors.NewConflict("An account with this email already exists"))
		case errors.Is(err, iauth.ErrInvalidRole):
			response.Error(c, appErrors.NewBadRequest("Invalid registration role"))
		case errors.Is(err, iauth.ErrOTPRateLimited):
			response.Error(c, appErrors.ErrTooManyRequests)
		default:
			response.Error(c, err)
		}
		return
	}

	h.recordAudit(c, &user.ID, services.AuditActionRegister, services.AuditResultSuccess, map[string]any{
		"email": user.Email,
	})

	payload := gin.H{"user": userPayload(user)}
	if h.echoCodes {
		payload["verification_code"] = code
	}
	response.Created(c, payload)
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,otp"`
}

// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		// Unknown accounts get the same answer as a wrong code.
		response.Error(c, appErrors.ErrInvalidOTP)
		return
	}

	if err := h.otp.Verify(ctx, user.ID, models.OTPPurposeEmailVerification, req.Code); err != nil {
		h.recordAudit(c, &user.ID, services.AuditActionOTPVerified, services.AuditResultFailure, nil)
		response.Error(c, otpError(err))
		return
	}

	if err := h.credentials.Activate(ctx, user.ID); err != nil {
		response.Error(c, err)
		return
	}
	user.IsActive = true

	// A verified account goes straight into a session, same as a login.
	pair, record, err := h.issuer.IssuePair(ctx, user.ID, c.ClientIP())
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	if err := h.ledger.SupersedeOnLogin(ctx, user.ID, record.ID, c.ClientIP()); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	h.issuer.WriteSessionCookies(c, pair)

	h.recordAudit(c, &user.ID, services.AuditActionOTPVerified, services.AuditResultSuccess, map[string]any{
		"purpose": string(models.OTPPurposeEmailVerification),
	})
	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.credentials.VerifyPassword(ctx, req.Email, req.Password, c.ClientIP())
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.recordAudit(c, nil, services.AuditActionLogin, services.AuditResultFailure, map[string]any{
			"email": req.Email,
		})
		switch {
		case errors.Is(err, iauth.ErrAccountInactive):
			response.Error(c, appErrors.ErrEmailNotVerified)
		case errors.Is(err, iauth.ErrInvalidCredentials):
			response.Error(c, appErrors.ErrInvalidCredentials)
		default:
			response.Error(c, err)
		}
		return
	}

	pair, record, err := h.issuer.IssuePair(ctx, user.ID, c.ClientIP())
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	// A fresh login supersedes every other live session for the account.
	if err := h.ledger.SupersedeOnLogin(ctx, user.ID, record.ID, c.ClientIP()); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	h.issuer.WriteSessionCookies(c, pair)
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	h.recordAudit(c, &user.ID, services.AuditActionLogin, services.AuditResultSuccess, nil)

	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

// POST /api/auth/refresh-token
func (h *AuthHandler) Refresh(c *gin.Context) {
	refresh, err := c.Cookie(iauth.RefreshTokenCookie)
	if err != nil || refresh == "" {
		response.Error(c, appErrors.ErrInvalidToken)
		return
	}

	pair, record, err := h.issuer.Rotate(requestContext(c), refresh, c.ClientIP())
	if err != nil {
		h.issuer.ClearSessionCookies(c)
		h.recordAudit(c, nil, services.AuditActionTokenRotated, services.AuditResultFailure, nil)
		response.Error(c, appErrors.ErrInvalidToken)
		return
	}

	h.issuer.WriteSessionCookies(c, pair)
	h.recordAudit(c, &record.UserID, services.AuditActionTokenRotated, services.AuditResultSuccess, nil)
	response.Success(c, http.StatusOK, gin.H{"refreshed": true})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := requestContext(c)
	if refresh, err := c.Cookie(iauth.RefreshTokenCookie); err == nil && refresh != "" {
		// Best effort: an already revoked or foreign token still logs out.
		if err := h.ledger.Revoke(ctx, refresh, c.ClientIP()); err == nil {
			if principal, ok := middleware.CurrentPrincipal(c); ok {
				h.recordAudit(c, &principal.UserID, services.AuditActionLogout, services.AuditResultSuccess, nil)
			}
		}
	}

	h.issuer.ClearSessionCookies(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	accepted := gin.H{"accepted": true}

	user, err := h.credentials.FindByEmail(ctx, req.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Same response as the happy path so emails cannot be enumerated.
		response.Success(c, http.StatusOK, accepted)
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	code, err := h.otp.Issue(ctx, user, models.OTPPurposePasswordReset, c.ClientIP())
	if err != nil {
		if errors.Is(err, iauth.ErrOTPRateLimited) {
			response.Error(c, appErrors.ErrTooManyRequests)
			return
		}
		response.Error(c, err)
		return
	}

	h.recordAudit(c, &user.ID, services.AuditActionOTPIssued, services.AuditResultSuccess, map[string]any{
		"purpose": string(models.OTPPurposePasswordReset),
	})

	if h.echoCodes {
		accepted["reset_code"] = code
	}
	response.Success(c, http.StatusOK, accepted)
}

type verifyResetCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,otp"`
}

// POST /api/auth/verify-reset-code
//
// Checks the code without consuming it, so the client can gate its password
// form while the same code remains valid for the final reset call.
func (h *AuthHandler) VerifyResetCode(c *gin.Context) {
	var req verifyResetCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		response.Error(c, appErrors.ErrInvalidOTP)
		return
	}

	if err := h.otp.Check(ctx, user.ID, models.OTPPurposePasswordReset, req.Code); err != nil {
		response.Error(c, otpError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required,otp"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		response.Error(c, appErrors.ErrInvalidOTP)
		return
	}

	if err := h.otp.Verify(ctx, user.ID, models.OTPPurposePasswordReset, req.Code); err != nil {
		h.recordAudit(c, &user.ID, services.AuditActionPasswordReset, services.AuditResultFailure, nil)
		response.Error(c, otpError(err))
		return
	}

	if err := h.credentials.SetPassword(ctx, user.ID, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	// Every outstanding session dies with the old password.
	if err := h.ledger.RevokeAllForUser(ctx, user.ID, c.ClientIP()); err != nil {
		response.Error(c, err)
		return
	}

	h.recordAudit(c, &user.ID, services.AuditActionPasswordReset, services.AuditResultSuccess, nil)
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.credentials.FindByID(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

func (h *AuthHandler) recordAudit(c *gin.Context, userID *string, action, result string, metadata map[string]any) {
	entry := services.AuditEntry{
		UserID:    userID,
		Action:    action,
		Result:    result,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  metadata,
	}
	if err := h.audit.Log(requestContext(c), entry); err != nil {
		// Audit write failures never fail the request.
		logger.WithModule("handlers").Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func otpError(err error) error {
	switch {
	case errors.Is(err, iauth.ErrOTPMismatch), errors.Is(err, iauth.ErrOTPNotFound):
		return appErrors.ErrInvalidOTP
	default:
		return err
	}
}

func userPayload(user *models.User) gin.H {
	roles := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, role.Name)
	}
	return gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"is_active": user.IsActive,
		"roles":     roles,
	}
}
