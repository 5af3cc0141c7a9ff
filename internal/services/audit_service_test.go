package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/campuspilot/backend/internal/database/testutil"
	"github.com/campuspilot/backend/internal/models"
)

func TestAuditLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedRoles())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	user := createUserWithRoles(t, db, "audit-user", models.RoleStudent)

	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:    &user.ID,
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		IPAddress: "10.0.0.5",
		UserAgent: "unit-test",
		Metadata:  map[string]any{"method": "password"},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID: &user.ID,
		Action: AuditActionTokenRotated,
		Result: AuditResultSuccess,
	}))
	// Anonymous entries (failed logins) carry no user.
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Action: AuditActionLogin,
		Result: AuditResultFailure,
	}))

	entries, err := svc.ListForUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	all, err := svc.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	logins, err := svc.ListRecent(ctx, AuditActionLogin, 10)
	require.NoError(t, err)
	require.Len(t, logins, 2)
}

func TestAuditCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedRoles())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, AuditEntry{Action: AuditActionLogin, Result: AuditResultFailure}))

	// Backdate the entry past the retention horizon.
	old := time.Now().AddDate(0, 0, -120)
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("1 = 1").
		Update("created_at", old).Error)

	require.NoError(t, svc.Log(ctx, AuditEntry{Action: AuditActionLogout, Result: AuditResultSuccess}))

	removed, err := svc.CleanupOlderThan(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	remaining, err := svc.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, AuditActionLogout, remaining[0].Action)

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}
