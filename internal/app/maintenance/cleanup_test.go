package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/campuspilot/backend/internal/auth"
	testutil "github.com/campuspilot/backend/internal/database/testutil"
	"github.com/campuspilot/backend/internal/models"
	"github.com/campuspilot/backend/internal/services"
)

func TestRunOnceCleansExpiredRecords(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedRoles())
	ctx := context.Background()

	clock := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	ledger, err := iauth.NewTokenLedger(db, iauth.LedgerConfig{
		RefreshTokenTTL: time.Hour,
		Clock:           now,
	})
	require.NoError(t, err)

	otpSvc, err := iauth.NewOTPService(db, iauth.OTPConfig{
		TTL:   10 * time.Minute,
		Clock: now,
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	user := &models.User{Name: "cleanup", Email: "cleanup@example.com", Password: "hash", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	_, _, err = ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)
	_, err = otpSvc.Issue(ctx, user, models.OTPPurposeEmailVerification, "")
	require.NoError(t, err)

	// Move past both lifetimes.
	clock = clock.Add(2 * time.Hour)

	cleaner := NewCleaner(ledger, otpSvc, auditSvc)
	require.NoError(t, cleaner.RunOnce(ctx))

	var tokens, challenges int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&tokens).Error)
	require.NoError(t, db.Model(&models.OTPChallenge{}).Count(&challenges).Error)
	require.Zero(t, tokens)
	require.Zero(t, challenges)
}

func TestRunOnceWithNoDependencies(t *testing.T) {
	cleaner := NewCleaner(nil, nil, nil)
	require.NoError(t, cleaner.RunOnce(context.Background()))
}

func TestStartAndStopScheduler(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedRoles())

	ledger, err := iauth.NewTokenLedger(db, iauth.LedgerConfig{})
	require.NoError(t, err)
	otpSvc, err := iauth.NewOTPService(db, iauth.OTPConfig{})
	require.NoError(t, err)
	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(ledger, otpSvc, auditSvc, WithAuditRetentionDays(30))
	require.NoError(t, cleaner.Start())

	stopCtx := cleaner.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
