package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/api"
	"github.com/campuspilot/backend/internal/app"
	iauth "github.com/campuspilot/backend/internal/auth"
	testutil "github.com/campuspilot/backend/internal/database/testutil"
	"github.com/campuspilot/backend/internal/models"
	"github.com/campuspilot/backend/internal/services"
)

type apiFixture struct {
	db     *gorm.DB
	router *gin.Engine
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedRoles())

	cfg := &app.Config{}
	cfg.Server.Environment = "test"
	cfg.Auth.JWT.Secret = "integration-secret"
	cfg.Auth.JWT.TTL = time.Minute
	cfg.Auth.RefreshToken.TTL = 2 * time.Hour

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTConfig())
	require.NoError(t, err)

	ledger, err := iauth.NewTokenLedger(db, cfg.Auth.LedgerConfig())
	require.NoError(t, err)

	otpSvc, err := iauth.NewOTPService(db, cfg.Auth.OTPConfig())
	require.NoError(t, err)

	credentialSvc, err := iauth.NewCredentialService(db, otpSvc, iauth.CredentialConfig{})
	require.NoError(t, err)

	issuer, err := iauth.NewSessionIssuer(jwtSvc, ledger, cfg.Auth.CookieConfig())
	require.NoError(t, err)

	roleSvc, err := services.NewRoleResolver(db)
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:          db,
		Config:      cfg,
		JWT:         jwtSvc,
		Issuer:      issuer,
		Ledger:      ledger,
		Credentials: credentialSvc,
		OTP:         otpSvc,
		Roles:       roleSvc,
		Audit:       auditSvc,
	})
	require.NoError(t, err)

	return &apiFixture{db: db, router: router}
}

func (f *apiFixture) post(t *testing.T, path string, body map[string]any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "body: %s", rec.Body.String())
	return envelope.Data
}

func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == iauth.AccessTokenCookie || cookie.Name == iauth.RefreshTokenCookie {
			out = append(out, cookie)
		}
	}
	return out
}

func TestFullCredentialLifecycle(t *testing.T) {
	f := setupAPI(t)

	// Register. The first account becomes the admin; outside production the
	// verification code is echoed for test and dev convenience.
	rec := f.post(t, "/api/auth/register", map[string]any{
		"name":     "Casey Morgan",
		"email":    "casey@example.com",
		"password": "password-123",
		"role":     "student",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	code, ok := data["verification_code"].(string)
	require.True(t, ok)
	require.Len(t, code, 6)

	// Login before verification is refused.
	rec = f.post(t, "/api/auth/login", map[string]any{
		"email":    "casey@example.com",
		"password": "password-123",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Verifying the email starts a session straight away.
	rec = f.post(t, "/api/auth/verify-email", map[string]any{
		"email": "casey@example.com",
		"code":  code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sessionCookies(rec), 2)
	require.Contains(t, rec.Body.String(), "casey@example.com")

	// Login sets both session cookies.
	rec = f.post(t, "/api/auth/login", map[string]any{
		"email":    "casey@example.com",
		"password": "password-123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := sessionCookies(rec)
	require.Len(t, cookies, 2)

	// Authenticated identity endpoint.
	rec = f.get(t, "/api/auth/me", cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "casey@example.com")
	require.Contains(t, rec.Body.String(), models.RoleAdmin)

	// Explicit refresh rotates the pair.
	rec = f.post(t, "/api/auth/refresh-token", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := sessionCookies(rec)
	require.Len(t, rotated, 2)

	// The pre-rotation refresh token is dead.
	rec = f.post(t, "/api/auth/refresh-token", nil, cookies...)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout clears cookies and kills the session.
	rec = f.post(t, "/api/auth/logout", nil, rotated...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/api/auth/refresh-token", nil, rotated...)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	f := setupAPI(t)

	rec := f.post(t, "/api/auth/register", map[string]any{
		"name":     "Riley Chen",
		"email":    "riley@example.com",
		"password": "password-123",
		"role":     "student",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	code := decodeData(t, rec)["verification_code"].(string)

	rec = f.post(t, "/api/auth/verify-email", map[string]any{
		"email": "riley@example.com",
		"code":  code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/api/auth/login", map[string]any{
		"email":    "riley@example.com",
		"password": "password-123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	loginCookies := sessionCookies(rec)

	// Request a reset code.
	rec = f.post(t, "/api/auth/forgot-password", map[string]any{
		"email": "riley@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resetCode, ok := decodeData(t, rec)["reset_code"].(string)
	require.True(t, ok)

	// The middle step validates without consuming.
	rec = f.post(t, "/api/auth/verify-reset-code", map[string]any{
		"email": "riley@example.com",
		"code":  resetCode,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/api/auth/reset-password", map[string]any{
		"email":    "riley@example.com",
		"code":     resetCode,
		"password": "brand-new-pass-456",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The consumed code cannot be replayed.
	rec = f.post(t, "/api/auth/reset-password", map[string]any{
		"email":    "riley@example.com",
		"code":     resetCode,
		"password": "another-pass-789",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// All sessions from before the reset are revoked.
	rec = f.post(t, "/api/auth/refresh-token", nil, loginCookies...)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Old password no longer works; the new one does.
	rec = f.post(t, "/api/auth/login", map[string]any{
		"email":    "riley@example.com",
		"password": "password-123",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, "/api/auth/login", map[string]any{
		"email":    "riley@example.com",
		"password": "brand-new-pass-456",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	f := setupAPI(t)

	rec := f.post(t, "/api/auth/forgot-password", map[string]any{
		"email": "nobody@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	require.Equal(t, true, data["accepted"])
	_, leaked := data["reset_code"]
	require.False(t, leaked)
}

func TestRegisterValidation(t *testing.T) {
	f := setupAPI(t)

	// Seed a first account so role validation applies.
	rec := f.post(t, "/api/auth/register", map[string]any{
		"name":     "First",
		"email":    "first@example.com",
		"password": "password-123",
		"role":     "student",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate email.
	rec = f.post(t, "/api/auth/register", map[string]any{
		"name":     "Second",
		"email":    "first@example.com",
		"password": "password-123",
		"role":     "student",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Role outside the allow-list.
	rec = f.post(t, "/api/auth/register", map[string]any{
		"name":     "Second",
		"email":    "second@example.com",
		"password": "password-123",
		"role":     "admin",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed payloads are rejected before any service call.
	rec = f.post(t, "/api/auth/register", map[string]any{
		"name":     "Second",
		"email":    "not-an-email",
		"password": "short",
		"role":     "student",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrongOTPIsRejected(t *testing.T) {
	f := setupAPI(t)

	rec := f.post(t, "/api/auth/register", map[string]any{
		"name":     "Jordan",
		"email":    "jordan@example.com",
		"password": "password-123",
		"role":     "student",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	code := decodeData(t, rec)["verification_code"].(string)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	rec = f.post(t, "/api/auth/verify-email", map[string]any{
		"email": "jordan@example.com",
		"code":  wrong,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown accounts get the same rejection as a wrong code.
	rec = f.post(t, "/api/auth/verify-email", map[string]any{
		"email": "ghost@example.com",
		"code":  wrong,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
