package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "seeme.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQuotaCreateAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Quota(ctx, "dev-1")
	require.ErrorIs(t, err, ErrNotFound)

	reset := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", UserID: "u-1", ResetAt: reset}))
	// Re-create is a no-op, not an error.
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", UserID: "other", ResetAt: reset}))

	rec, err := s.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", rec.UserID)
	assert.Zero(t, rec.TextUsed)
	assert.Zero(t, rec.VoiceUsed)
	assert.False(t, rec.OwnsPremium)
	assert.True(t, rec.ResetAt.Equal(reset))
}

func TestIncrementQuotaStopsAtLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", ResetAt: time.Now().Add(time.Hour)}))

	for i := 1; i <= 3; i++ {
		used, ok, err := s.IncrementQuota(ctx, "dev-1", false, 3, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, used)
	}

	used, ok, err := s.IncrementQuota(ctx, "dev-1", false, 3, false)
	require.NoError(t, err)
	assert.False(t, ok, "fourth reservation must be refused")
	assert.Equal(t, 3, used, "a refused reservation must not advance the counter")
}

func TestIncrementQuotaForceIgnoresLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", ResetAt: time.Now().Add(time.Hour)}))

	for i := 1; i <= 5; i++ {
		used, ok, err := s.IncrementQuota(ctx, "dev-1", true, 3, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, used)
	}
}

func TestIncrementQuotaTracksCategoriesIndependently(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", ResetAt: time.Now().Add(time.Hour)}))

	_, _, err := s.IncrementQuota(ctx, "dev-1", true, 3, false)
	require.NoError(t, err)
	used, ok, err := s.IncrementQuota(ctx, "dev-1", false, 50, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)

	rec, err := s.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.VoiceUsed)
	assert.Equal(t, 1, rec.TextUsed)
}

func TestResetQuotaIfDue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", ResetAt: now.Add(-time.Minute)}))
	_, _, err := s.IncrementQuota(ctx, "dev-1", false, 50, false)
	require.NoError(t, err)

	next := now.Add(24 * time.Hour)
	require.NoError(t, s.ResetQuotaIfDue(ctx, "dev-1", now, next))

	rec, err := s.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Zero(t, rec.TextUsed)
	assert.True(t, rec.ResetAt.Equal(next))

	// Boundary not yet passed: the guarded reset is a no-op.
	_, _, err = s.IncrementQuota(ctx, "dev-1", false, 50, false)
	require.NoError(t, err)
	require.NoError(t, s.ResetQuotaIfDue(ctx, "dev-1", now, now.Add(48*time.Hour)))
	rec, err = s.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TextUsed)
	assert.True(t, rec.ResetAt.Equal(next))
}

func TestBanLookupAcrossTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UserBan(ctx, "u-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.UserBan(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.BanUser(ctx, "u-1", "abuse"))
	require.NoError(t, s.BanDevice(ctx, "dev-1", "shared device"))
	require.NoError(t, s.BanAddress(ctx, "203.0.113.9", "scraper"))

	reason, err := s.UserBan(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "abuse", reason)

	reason, err = s.DeviceBan(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "shared device", reason)

	reason, err = s.AddressBan(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "scraper", reason)
}

func TestCustomLimitAndSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	limit, err := s.CustomLimit(ctx, "u-1", false)
	require.NoError(t, err)
	assert.Zero(t, limit)

	require.NoError(t, s.SetCustomLimit(ctx, "u-1", 200, 10))
	limit, err = s.CustomLimit(ctx, "u-1", false)
	require.NoError(t, err)
	assert.Equal(t, 200, limit)
	limit, err = s.CustomLimit(ctx, "u-1", true)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	val, err := s.Setting(ctx, "default_text_limit")
	require.NoError(t, err)
	assert.Empty(t, val)
	require.NoError(t, s.SetSetting(ctx, "default_text_limit", "75"))
	val, err = s.Setting(ctx, "default_text_limit")
	require.NoError(t, err)
	assert.Equal(t, "75", val)
}

func TestSetPremium(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateQuota(ctx, &QuotaRecord{DeviceID: "dev-1", ResetAt: time.Now().Add(time.Hour)}))

	require.NoError(t, s.SetPremium(ctx, "dev-1", true))
	rec, err := s.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, rec.OwnsPremium)
}

func TestCredentialStatusUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveCredentialStatus(ctx, CredentialSnapshot{
		KeyMask: "sk-...abcd", State: "active", Used: 100, Limit: 1000, Fraction: 0.1, CheckedAt: now,
	}))
	require.NoError(t, s.SaveCredentialStatus(ctx, CredentialSnapshot{
		KeyMask: "sk-...abcd", State: "near_limit", Used: 850, Limit: 1000, Fraction: 0.85, CheckedAt: now,
	}))

	snaps, err := s.CredentialStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "second save replaces the row, never duplicates it")
	assert.Equal(t, "near_limit", snaps[0].State)
	assert.Equal(t, int64(850), snaps[0].Used)
}

func TestAppendTelemetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendTelemetry(ctx, "request", "req-1", []byte(`{"provider":"openai"}`)))
	require.NoError(t, s.AppendTelemetry(ctx, "request", "req-2", []byte(`{"provider":"anthropic"}`)))
	require.NoError(t, s.AppendTelemetry(ctx, "error", "req-2", []byte(`{"code":"stream_timeout"}`)))

	n, err := s.TelemetryCount(ctx, "request")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
