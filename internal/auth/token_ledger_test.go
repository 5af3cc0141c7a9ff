package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/campuspilot/backend/internal/database/testutil"
	"github.com/campuspilot/backend/internal/models"
	"github.com/campuspilot/backend/pkg/crypto"
)

func TestIssueStoresOnlyHash(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "issue")

	plaintext, record, err := ledger.Issue(context.Background(), user.ID, "10.0.0.1 ")
	require.NoError(t, err)
	require.Len(t, plaintext, crypto.RefreshSecretBytes*2)
	require.NotNil(t, record)

	var stored models.RefreshToken
	require.NoError(t, db.Take(&stored, "id = ?", record.ID).Error)
	require.NotEqual(t, plaintext, stored.TokenHash)
	require.Equal(t, crypto.LookupPrefix(plaintext), stored.Lookup)
	require.Equal(t, "10.0.0.1", stored.CreatedByIP)
	require.True(t, stored.ExpiresAt.After(clock.Now()))
	require.Nil(t, stored.RevokedAt)
	require.Nil(t, stored.ReplacedByID)
}

func TestRotateRetiresOldAndLinksSuccessor(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "rotate")
	ctx := context.Background()

	plaintext, record, err := ledger.Issue(ctx, user.ID, "10.0.0.1")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	newPlaintext, successor, err := ledger.Rotate(ctx, plaintext, "10.0.0.2")
	require.NoError(t, err)
	require.NotEqual(t, plaintext, newPlaintext)
	require.Equal(t, user.ID, successor.UserID)

	var old models.RefreshToken
	require.NoError(t, db.Take(&old, "id = ?", record.ID).Error)
	require.NotNil(t, old.RevokedAt)
	require.Equal(t, "10.0.0.2", old.RevokedByIP)
	require.NotNil(t, old.ReplacedByID)
	require.Equal(t, successor.ID, *old.ReplacedByID)
}

func TestRotateReplayedTokenFails(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "replay")
	ctx := context.Background()

	plaintext, _, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, _, err = ledger.Rotate(ctx, plaintext, "")
	require.NoError(t, err)

	// Presenting the retired plaintext again is the replay signal.
	_, _, err = ledger.Rotate(ctx, plaintext, "")
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRotateChainStaysConnected(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "chain")
	ctx := context.Background()

	plaintext, first, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	ids := []string{first.ID}
	for i := 0; i < 4; i++ {
		clock.Advance(time.Minute)
		next, successor, err := ledger.Rotate(ctx, plaintext, "")
		require.NoError(t, err)
		plaintext = next
		ids = append(ids, successor.ID)
	}

	// Every retired token points at its direct successor; only the newest is live.
	for i := 0; i < len(ids)-1; i++ {
		var token models.RefreshToken
		require.NoError(t, db.Take(&token, "id = ?", ids[i]).Error)
		require.NotNil(t, token.RevokedAt)
		require.NotNil(t, token.ReplacedByID)
		require.Equal(t, ids[i+1], *token.ReplacedByID)
	}

	var head models.RefreshToken
	require.NoError(t, db.Take(&head, "id = ?", ids[len(ids)-1]).Error)
	require.Nil(t, head.RevokedAt)
	require.Nil(t, head.ReplacedByID)
}

func TestRotateUnknownPlaintext(t *testing.T) {
	_, ledger, _ := setupLedger(t)

	_, _, err := ledger.Rotate(context.Background(), "does-not-exist", "")
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, _, err = ledger.Rotate(context.Background(), "   ", "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRotateExpiredToken(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "expired")
	ctx := context.Background()

	plaintext, _, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	_, _, err = ledger.Rotate(ctx, plaintext, "")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	db, ledger, _ := setupLedger(t)
	user := createTestUser(t, db, "race")
	ctx := context.Background()

	// Serialise SQLite access so the race plays out on the conditional
	// update instead of surfacing as driver lock errors.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	plaintext, _, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		replayed int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ledger.Rotate(ctx, plaintext, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenRevoked):
				replayed++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, replayed)
}

func TestRevokeWithoutSuccessor(t *testing.T) {
	db, ledger, _ := setupLedger(t)
	user := createTestUser(t, db, "revoke")
	ctx := context.Background()

	plaintext, record, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	require.NoError(t, ledger.Revoke(ctx, plaintext, "10.1.1.1"))

	var stored models.RefreshToken
	require.NoError(t, db.Take(&stored, "id = ?", record.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	require.Nil(t, stored.ReplacedByID)

	require.ErrorIs(t, ledger.Revoke(ctx, plaintext, ""), ErrTokenRevoked)
}

func TestSupersedeOnLoginRevokesOtherSessions(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "supersede")
	other := createTestUser(t, db, "supersede-other")
	ctx := context.Background()

	stalePlain, stale, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	_, foreign, err := ledger.Issue(ctx, other.ID, "")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, fresh, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	require.NoError(t, ledger.SupersedeOnLogin(ctx, user.ID, fresh.ID, "10.2.2.2"))

	var reloadedStale models.RefreshToken
	require.NoError(t, db.Take(&reloadedStale, "id = ?", stale.ID).Error)
	require.NotNil(t, reloadedStale.RevokedAt)
	require.NotNil(t, reloadedStale.ReplacedByID)
	require.Equal(t, fresh.ID, *reloadedStale.ReplacedByID)

	var reloadedFresh models.RefreshToken
	require.NoError(t, db.Take(&reloadedFresh, "id = ?", fresh.ID).Error)
	require.Nil(t, reloadedFresh.RevokedAt)

	// Another user's sessions are untouched.
	var reloadedForeign models.RefreshToken
	require.NoError(t, db.Take(&reloadedForeign, "id = ?", foreign.ID).Error)
	require.Nil(t, reloadedForeign.RevokedAt)

	// The superseded plaintext now behaves like any revoked token.
	_, _, err = ledger.Rotate(ctx, stalePlain, "")
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRevokeAllForUser(t *testing.T) {
	db, ledger, _ := setupLedger(t)
	user := createTestUser(t, db, "revoke-all")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := ledger.Issue(ctx, user.ID, "")
		require.NoError(t, err)
	}

	require.NoError(t, ledger.RevokeAllForUser(ctx, user.ID, ""))

	var active int64
	require.NoError(t, db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", user.ID).
		Count(&active).Error)
	require.Zero(t, active)
}

func TestCleanupExpiredDeletesRegardlessOfState(t *testing.T) {
	db, ledger, clock := setupLedger(t)
	user := createTestUser(t, db, "cleanup")
	ctx := context.Background()

	plaintext, _, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Revoke(ctx, plaintext, ""))

	_, _, err = ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	_, fresh, err := ledger.Issue(ctx, user.ID, "")
	require.NoError(t, err)

	deleted, err := ledger.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var count int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var remaining models.RefreshToken
	require.NoError(t, db.Take(&remaining).Error)
	require.Equal(t, fresh.ID, remaining.ID)
}

func setupLedger(t *testing.T) (*gorm.DB, *TokenLedger, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)}

	ledger, err := NewTokenLedger(db, LedgerConfig{
		RefreshTokenTTL:  2 * time.Hour,
		RotationLookback: 24 * time.Hour,
		Clock:            clock.Now,
	})
	require.NoError(t, err)

	return db, ledger, clock
}
