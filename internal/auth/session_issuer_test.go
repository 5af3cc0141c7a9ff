package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/campuspilot/backend/internal/database/testutil"
)

func TestIssuePairMintsBothTokens(t *testing.T) {
	db, issuer, _ := setupIssuer(t)
	user := createTestUser(t, db, "issuer")

	pair, record, err := issuer.IssuePair(context.Background(), user.ID, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, user.ID, record.UserID)
}

func TestRotatePassesLedgerErrorsThrough(t *testing.T) {
	db, issuer, clock := setupIssuer(t)
	user := createTestUser(t, db, "issuer-rotate")
	ctx := context.Background()

	pair, _, err := issuer.IssuePair(ctx, user.ID, "")
	require.NoError(t, err)

	clock.Advance(time.Second)

	newPair, record, err := issuer.Rotate(ctx, pair.RefreshToken, "")
	require.NoError(t, err)
	require.Equal(t, user.ID, record.UserID)
	require.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	_, _, err = issuer.Rotate(ctx, pair.RefreshToken, "")
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, _, err = issuer.Rotate(ctx, "unknown", "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestWriteAndClearSessionCookies(t *testing.T) {
	_, issuer, _ := setupIssuer(t)

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)

	issuer.WriteSessionCookies(c, TokenPair{AccessToken: "access-value", RefreshToken: "refresh-value"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	byName := map[string]*http.Cookie{}
	for _, cookie := range cookies {
		byName[cookie.Name] = cookie
	}

	access := byName[AccessTokenCookie]
	require.NotNil(t, access)
	require.Equal(t, "access-value", access.Value)
	require.True(t, access.HttpOnly)
	require.Equal(t, "/", access.Path)
	require.Equal(t, int((2 * time.Minute).Seconds()), access.MaxAge)

	refresh := byName[RefreshTokenCookie]
	require.NotNil(t, refresh)
	require.Equal(t, "refresh-value", refresh.Value)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, int((2 * time.Hour).Seconds()), refresh.MaxAge)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)

	issuer.ClearSessionCookies(c)
	for _, cookie := range rec.Result().Cookies() {
		require.Empty(t, cookie.Value)
		require.Negative(t, cookie.MaxAge)
	}
}

func setupIssuer(t *testing.T) (*gorm.DB, *SessionIssuer, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)}

	jwtSvc, err := NewJWTService(JWTConfig{
		Secret:         "issuer-secret",
		AccessTokenTTL: 2 * time.Minute,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	ledger, err := NewTokenLedger(db, LedgerConfig{
		RefreshTokenTTL: 2 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	issuer, err := NewSessionIssuer(jwtSvc, ledger, CookieConfig{})
	require.NoError(t, err)

	return db, issuer, clock
}
