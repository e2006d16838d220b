package admission

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeeMe2025/SeeMeBackend/internal/store"
)

func testGate(t *testing.T, opts Options) (*Gate, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "seeme.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if opts.VoiceDailyLimit == 0 {
		opts.VoiceDailyLimit = 3
	}
	if opts.TextDailyLimit == 0 {
		opts.TextDailyLimit = 50
	}
	return NewGate(st, opts), st
}

func textRequest(deviceID string) Request {
	return Request{Identity: Identity{DeviceID: deviceID, Address: "198.51.100.7"}}
}

func TestAdmit_FirstRequestCreatesRecordAndCounts(t *testing.T) {
	gate, st := testGate(t, Options{FailClosed: true})
	ctx := context.Background()

	d := gate.Admit(ctx, textRequest("dev-1"))
	assert.True(t, d.Allowed)

	rec, err := st.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TextUsed)
}

func TestAdmit_DeniesAtLimitUntilReset(t *testing.T) {
	now := time.Date(2026, 8, 26, 18, 0, 0, 0, time.UTC)
	gate, _ := testGate(t, Options{
		TextDailyLimit: 2,
		FailClosed:     true,
		Now:            func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.True(t, gate.Admit(ctx, textRequest("dev-1")).Allowed)
	}

	d := gate.Admit(ctx, textRequest("dev-1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLimit, d.Reason)
	assert.Equal(t, 2, d.Used)
	assert.Equal(t, 2, d.Max)

	// Cross the UTC midnight boundary: the lazy reset admits again.
	now = now.Add(7 * time.Hour)
	d = gate.Admit(ctx, textRequest("dev-1"))
	assert.True(t, d.Allowed)
}

func TestAdmit_BanPrecedesEverything(t *testing.T) {
	gate, st := testGate(t, Options{FailClosed: true})
	ctx := context.Background()
	require.NoError(t, st.BanDevice(ctx, "dev-1", "abuse"))

	// Even a caller-supplied upstream credential does not get past a ban.
	d := gate.Admit(ctx, Request{
		Identity:               Identity{DeviceID: "dev-1"},
		OwnsUpstreamCredential: true,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBanned, d.Reason)
	assert.Equal(t, "abuse", d.BanReason)
}

func TestAdmit_BanTablesCheckedAddressFirst(t *testing.T) {
	gate, st := testGate(t, Options{FailClosed: true})
	ctx := context.Background()
	require.NoError(t, st.BanAddress(ctx, "203.0.113.9", "address ban"))
	require.NoError(t, st.BanDevice(ctx, "dev-1", "device ban"))

	d := gate.Admit(ctx, Request{Identity: Identity{DeviceID: "dev-1", Address: "203.0.113.9"}})
	assert.Equal(t, "address ban", d.BanReason)

	d = gate.Admit(ctx, Request{Identity: Identity{DeviceID: "dev-1", UserID: "u-1"}})
	assert.Equal(t, "device ban", d.BanReason)
}

func TestAdmit_OwnCredentialBypassesQuota(t *testing.T) {
	gate, st := testGate(t, Options{TextDailyLimit: 1, FailClosed: true})
	ctx := context.Background()

	assert.True(t, gate.Admit(ctx, textRequest("dev-1")).Allowed)
	assert.False(t, gate.Admit(ctx, textRequest("dev-1")).Allowed)

	req := textRequest("dev-1")
	req.OwnsUpstreamCredential = true
	assert.True(t, gate.Admit(ctx, req).Allowed)

	// The bypass neither decremented nor incremented the counter.
	rec, err := st.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TextUsed)
}

func TestAdmit_ExemptCategorySkipsQuota(t *testing.T) {
	gate, st := testGate(t, Options{
		TextDailyLimit:   1,
		FailClosed:       true,
		ExemptCategories: []string{"scheduled_refresh", "background_job"},
	})
	ctx := context.Background()

	req := textRequest("dev-1")
	req.Category = "scheduled_refresh"
	for i := 0; i < 3; i++ {
		assert.True(t, gate.Admit(ctx, req).Allowed)
	}

	_, err := st.Quota(ctx, "dev-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "exempt traffic must not create counters")
}

func TestAdmit_MissingIdentityDenied(t *testing.T) {
	gate, _ := testGate(t, Options{FailClosed: true})

	d := gate.Admit(context.Background(), Request{Identity: Identity{Address: "198.51.100.7"}})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMissingIdentity, d.Reason)
}

func TestAdmit_PremiumVoiceCountsWithoutDenying(t *testing.T) {
	gate, st := testGate(t, Options{VoiceDailyLimit: 2, FailClosed: true})
	ctx := context.Background()

	require.NoError(t, st.CreateQuota(ctx, &store.QuotaRecord{
		DeviceID: "dev-1",
		ResetAt:  time.Now().Add(time.Hour),
	}))
	require.NoError(t, st.SetPremium(ctx, "dev-1", true))

	req := Request{Identity: Identity{DeviceID: "dev-1"}, Voice: true}
	for i := 0; i < 5; i++ {
		assert.True(t, gate.Admit(ctx, req).Allowed)
	}

	rec, err := st.Quota(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.VoiceUsed, "premium usage is still recorded")
}

func TestAdmit_CustomLimitOverridesDefaults(t *testing.T) {
	gate, st := testGate(t, Options{TextDailyLimit: 1, FailClosed: true})
	ctx := context.Background()
	require.NoError(t, st.SetCustomLimit(ctx, "u-1", 3, 0))

	req := Request{Identity: Identity{DeviceID: "dev-1", UserID: "u-1"}}
	for i := 0; i < 3; i++ {
		assert.True(t, gate.Admit(ctx, req).Allowed)
	}
	d := gate.Admit(ctx, req)
	assert.Equal(t, ReasonLimit, d.Reason)
	assert.Equal(t, 3, d.Max)
}

func TestAdmit_OperatorSettingOverridesConfig(t *testing.T) {
	gate, st := testGate(t, Options{TextDailyLimit: 1, FailClosed: true})
	ctx := context.Background()
	require.NoError(t, st.SetSetting(ctx, SettingDefaultTextLimit, "2"))

	assert.True(t, gate.Admit(ctx, textRequest("dev-1")).Allowed)
	assert.True(t, gate.Admit(ctx, textRequest("dev-1")).Allowed)
	assert.Equal(t, ReasonLimit, gate.Admit(ctx, textRequest("dev-1")).Reason)
}

// failingStore reports an error on every lookup.
type failingStore struct{ Store }

var errDown = errors.New("store down")

func (failingStore) DeviceBan(context.Context, string) (string, error) { return "", errDown }
func (failingStore) AddressBan(context.Context, string) (string, error) {
	return "", errDown
}
func (failingStore) UserBan(context.Context, string) (string, error) { return "", errDown }
func (failingStore) Quota(context.Context, string) (*store.QuotaRecord, error) {
	return nil, errDown
}

func TestAdmit_StoreFailurePolicy(t *testing.T) {
	req := Request{Identity: Identity{DeviceID: "dev-1"}}

	closed := NewGate(failingStore{}, Options{FailClosed: true})
	d := closed.Admit(context.Background(), req)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreError, d.Reason)

	open := NewGate(failingStore{}, Options{FailClosed: false})
	d = open.Admit(context.Background(), req)
	assert.True(t, d.Allowed, "fail-open admits when the store is unreachable")
}
