// Package admission decides whether a request may proceed.
//
// DESIGN: Ban checks run first and are unconditional — a caller-supplied
// upstream credential or an exempt prompt category never skips them. Quota
// is reserved with a single conditional increment against the record store
// so concurrent requests from one identity cannot double-spend. The daily
// reset boundary is fixed UTC midnight.
package admission

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/store"
)

// Deny reasons surfaced to the orchestrator.
const (
	ReasonBanned          = "banned"
	ReasonLimit           = "limit"
	ReasonMissingIdentity = "missing_identity"
	ReasonStoreError      = "store_error"
)

// Operator-set default limit keys in the settings table.
const (
	SettingDefaultTextLimit  = "default_text_limit"
	SettingDefaultVoiceLimit = "default_voice_limit"
)

// Identity is the caller tuple used as the lookup key into quota and ban
// records. DeviceID is mandatory for unauthenticated admission.
type Identity struct {
	DeviceID string
	UserID   string
	Address  string
}

// Request describes one admission attempt.
type Request struct {
	Identity Identity
	// Voice selects the voice counter instead of the text counter.
	Voice bool
	// OwnsUpstreamCredential means the caller supplied its own provider
	// key; quota is bypassed entirely (bans are not).
	OwnsUpstreamCredential bool
	// Category is the prompt category; exempt categories skip quota.
	Category string
}

// Decision is the admission outcome.
type Decision struct {
	Allowed bool
	Reason  string
	// BanReason carries the stored reason when Reason is "banned".
	BanReason string
	// Used and Max describe the quota state when Reason is "limit".
	Used int
	Max  int
}

var allow = Decision{Allowed: true}

// Store is the slice of the record store the gate consumes.
type Store interface {
	UserBan(ctx context.Context, userID string) (string, error)
	DeviceBan(ctx context.Context, deviceID string) (string, error)
	AddressBan(ctx context.Context, address string) (string, error)
	Quota(ctx context.Context, deviceID string) (*store.QuotaRecord, error)
	CreateQuota(ctx context.Context, rec *store.QuotaRecord) error
	ResetQuotaIfDue(ctx context.Context, deviceID string, now, nextReset time.Time) error
	IncrementQuota(ctx context.Context, deviceID string, voice bool, limit int, force bool) (int, bool, error)
	CustomLimit(ctx context.Context, userID string, voice bool) (int, error)
	Setting(ctx context.Context, key string) (string, error)
}

// Options configures a Gate.
type Options struct {
	VoiceDailyLimit int
	TextDailyLimit  int
	// FailClosed denies on store errors instead of allowing.
	FailClosed       bool
	ExemptCategories []string
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Gate enforces bans and per-identity daily quotas.
type Gate struct {
	store  Store
	opts   Options
	exempt map[string]struct{}
}

// NewGate creates a Gate over the record store.
func NewGate(st Store, opts Options) *Gate {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	exempt := make(map[string]struct{}, len(opts.ExemptCategories))
	for _, c := range opts.ExemptCategories {
		exempt[c] = struct{}{}
	}
	return &Gate{store: st, opts: opts, exempt: exempt}
}

// Admit runs the ban check, then the quota check, reserving one unit on
// success.
func (g *Gate) Admit(ctx context.Context, req Request) Decision {
	if d, banned := g.checkBans(ctx, req.Identity); banned {
		return d
	}

	// Caller-supplied upstream credential bypasses quota entirely.
	if req.OwnsUpstreamCredential {
		return allow
	}

	// System-internal categories never touch counters.
	if _, ok := g.exempt[req.Category]; ok {
		return allow
	}

	if req.Identity.DeviceID == "" && req.Identity.UserID == "" {
		return Decision{Reason: ReasonMissingIdentity}
	}

	return g.checkQuota(ctx, req)
}

// checkBans checks address, device, then user bans; first match wins.
func (g *Gate) checkBans(ctx context.Context, id Identity) (Decision, bool) {
	type lookup struct {
		key string
		fn  func(context.Context, string) (string, error)
	}
	for _, l := range []lookup{
		{id.Address, g.store.AddressBan},
		{id.DeviceID, g.store.DeviceBan},
		{id.UserID, g.store.UserBan},
	} {
		if l.key == "" {
			continue
		}
		reason, err := l.fn(ctx, l.key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("admission: ban lookup failed")
			if g.opts.FailClosed {
				return Decision{Reason: ReasonStoreError}, true
			}
			continue
		}
		return Decision{Reason: ReasonBanned, BanReason: reason}, true
	}
	return allow, false
}

func (g *Gate) checkQuota(ctx context.Context, req Request) Decision {
	deviceID := req.Identity.DeviceID
	if deviceID == "" {
		// Authenticated caller without a device header: key by user.
		deviceID = "user:" + req.Identity.UserID
	}
	now := g.opts.Now().UTC()

	rec, err := g.store.Quota(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		rec = &store.QuotaRecord{
			DeviceID: deviceID,
			UserID:   req.Identity.UserID,
			ResetAt:  nextUTCMidnight(now),
		}
		if err := g.store.CreateQuota(ctx, rec); err != nil {
			return g.storeFailure(err, "quota create")
		}
	} else if err != nil {
		return g.storeFailure(err, "quota lookup")
	}

	// Lazy daily reset.
	if !now.Before(rec.ResetAt) {
		if err := g.store.ResetQuotaIfDue(ctx, deviceID, now, nextUTCMidnight(now)); err != nil {
			return g.storeFailure(err, "quota reset")
		}
	}

	limit := g.resolveLimit(ctx, req)

	// Premium voice bypass: usage is still counted, never denied.
	force := req.Voice && rec.OwnsPremium

	used, ok, err := g.store.IncrementQuota(ctx, deviceID, req.Voice, limit, force)
	if err != nil {
		return g.storeFailure(err, "quota increment")
	}
	if !ok && !force {
		return Decision{Reason: ReasonLimit, Used: used, Max: limit}
	}
	return allow
}

// resolveLimit picks the effective daily limit: per-user custom override,
// then the operator-set default, then the configured constant.
func (g *Gate) resolveLimit(ctx context.Context, req Request) int {
	limit := g.opts.TextDailyLimit
	settingKey := SettingDefaultTextLimit
	if req.Voice {
		limit = g.opts.VoiceDailyLimit
		settingKey = SettingDefaultVoiceLimit
	}

	if v, err := g.store.Setting(ctx, settingKey); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if custom, err := g.store.CustomLimit(ctx, req.Identity.UserID, req.Voice); err == nil && custom > 0 {
		limit = custom
	}
	return limit
}

func (g *Gate) storeFailure(err error, op string) Decision {
	log.Error().Err(err).Str("op", op).Bool("fail_closed", g.opts.FailClosed).
		Msg("admission: store error")
	if g.opts.FailClosed {
		return Decision{Reason: ReasonStoreError}
	}
	return allow
}

// nextUTCMidnight returns the first midnight strictly after now.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
