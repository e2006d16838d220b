package voicepool

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/monitoring"
	"github.com/SeeMe2025/SeeMeBackend/internal/utils"
)

// ErrAllExhausted is returned when no credential in the pool is usable.
var ErrAllExhausted = errors.New("voicepool: all credentials exhausted")

// Health states for one credential.
const (
	StateActive      = "active"
	StateNearLimit   = "near_limit"
	StateExhausted   = "exhausted"
	StateRateLimited = "rate_limited"
	StateInvalid     = "invalid"
)

// Status is the derived health of one credential.
type Status struct {
	State     string
	Used      int64
	Limit     int64
	Remaining int64
	Fraction  float64
	NextReset time.Time
	CheckedAt time.Time
}

// usable reports whether a credential can serve a request right now.
func (s *Status) usable() bool {
	return s.State == StateActive && (s.Limit == 0 || s.Used < s.Limit)
}

// Options configures a Pool.
type Options struct {
	// HealthCacheTTL is how long a refreshed status stays trusted.
	HealthCacheTTL time.Duration
	// RateLimitedCooldown forces an earlier re-check after a 429.
	RateLimitedCooldown time.Duration
	// NearLimitFraction classifies near-limit credentials.
	NearLimitFraction float64
	// Now is overridable for tests.
	Now func() time.Time
}

// Pool owns the credential list, the selection cursor, and the health
// cache. The cursor is a best-effort affinity hint: concurrent requests may
// race on it, which is acceptable because health tracking is corrective.
type Pool struct {
	client   *Client
	recorder monitoring.Recorder
	opts     Options

	mu          sync.Mutex
	credentials []string
	cursor      int
	health      map[string]*Status
}

// NewPool creates a pool over a fixed credential list.
func NewPool(client *Client, credentials []string, recorder monitoring.Recorder, opts Options) *Pool {
	if opts.HealthCacheTTL <= 0 {
		opts.HealthCacheTTL = 60 * time.Second
	}
	if opts.RateLimitedCooldown <= 0 {
		opts.RateLimitedCooldown = 60 * time.Second
	}
	if opts.NearLimitFraction <= 0 {
		opts.NearLimitFraction = 0.8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if recorder == nil {
		recorder = monitoring.NopRecorder{}
	}
	return &Pool{
		client:      client,
		recorder:    recorder,
		opts:        opts,
		credentials: append([]string(nil), credentials...),
		health:      make(map[string]*Status, len(credentials)),
	}
}

// Size returns the number of pooled credentials.
func (p *Pool) Size() int {
	return len(p.credentials)
}

// Acquire returns the best usable credential, scanning at most once around
// the list starting at the cursor. Selection is sticky: the cursor stays on
// the returned credential so subsequent calls prefer it until it fails.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	p.mu.Lock()
	n := len(p.credentials)
	start := p.cursor
	p.mu.Unlock()

	if n == 0 {
		return "", ErrAllExhausted
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		cred := p.credentials[idx]

		st := p.statusFor(ctx, cred)
		if !st.usable() {
			continue
		}

		p.mu.Lock()
		p.cursor = idx
		p.mu.Unlock()
		return cred, nil
	}
	return "", ErrAllExhausted
}

// ReportFailure updates pool state after an upstream synthesis failure.
func (p *Pool) ReportFailure(cred string, httpStatus int) {
	switch httpStatus {
	case http.StatusTooManyRequests:
		p.markState(cred, StateRateLimited)
		p.rotateFrom(cred)
	case http.StatusUnauthorized:
		p.markState(cred, StateInvalid)
		p.rotateFrom(cred)
	case http.StatusPaymentRequired, http.StatusForbidden:
		// Likely out of characters; re-check classifies it exhausted.
		p.forceRefresh(cred)
		p.rotateFrom(cred)
	default:
		log.Warn().Int("status", httpStatus).Str("key", utils.MaskKey(cred)).
			Msg("voicepool: upstream failure, no state change")
	}
}

// statusFor returns cached health when fresh, refreshing synchronously
// otherwise.
func (p *Pool) statusFor(ctx context.Context, cred string) *Status {
	now := p.opts.Now()

	p.mu.Lock()
	st, ok := p.health[cred]
	if ok {
		ttl := p.opts.HealthCacheTTL
		if st.State == StateRateLimited {
			ttl = p.opts.RateLimitedCooldown
		}
		if now.Sub(st.CheckedAt) < ttl {
			p.mu.Unlock()
			return st
		}
	}
	p.mu.Unlock()

	return p.refresh(ctx, cred)
}

// refresh queries the upstream account status and classifies the result.
func (p *Pool) refresh(ctx context.Context, cred string) *Status {
	now := p.opts.Now()
	st := &Status{CheckedAt: now}

	sub, err := p.client.GetSubscription(ctx, cred)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			switch ue.StatusCode {
			case http.StatusUnauthorized:
				st.State = StateInvalid
			case http.StatusTooManyRequests:
				st.State = StateRateLimited
			default:
				st.State = StateRateLimited
				log.Warn().Int("status", ue.StatusCode).Str("key", utils.MaskKey(cred)).
					Msg("voicepool: unexpected status from health check")
			}
		} else {
			// Network failure: keep the credential out of rotation briefly.
			st.State = StateRateLimited
			log.Error().Err(err).Str("key", utils.MaskKey(cred)).
				Msg("voicepool: health check failed")
		}
	} else {
		st.Used = sub.CharacterCount
		st.Limit = sub.CharacterLimit
		st.Remaining = sub.CharacterLimit - sub.CharacterCount
		if sub.CharacterLimit > 0 {
			st.Fraction = float64(sub.CharacterCount) / float64(sub.CharacterLimit)
		}
		if sub.NextResetUnix > 0 {
			st.NextReset = time.Unix(sub.NextResetUnix, 0).UTC()
		}
		switch {
		case sub.CharacterLimit > 0 && sub.CharacterCount >= sub.CharacterLimit:
			st.State = StateExhausted
		case st.Fraction >= p.opts.NearLimitFraction:
			st.State = StateNearLimit
		default:
			st.State = StateActive
		}
	}

	p.mu.Lock()
	p.health[cred] = st
	p.mu.Unlock()

	// Snapshot persisted for observability; failures never block selection.
	p.recorder.Record(&monitoring.CredentialEvent{
		KeyMask:   utils.MaskKey(cred),
		Timestamp: now,
		State:     st.State,
		Used:      st.Used,
		Limit:     st.Limit,
		Fraction:  st.Fraction,
		NextReset: st.NextReset,
	})

	return st
}

func (p *Pool) forceRefresh(cred string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.refresh(ctx, cred)
}

func (p *Pool) markState(cred, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.health[cred]
	if !ok {
		st = &Status{}
		p.health[cred] = st
	}
	st.State = state
	st.CheckedAt = p.opts.Now()
}

// rotateFrom advances the cursor past the failed credential.
func (p *Pool) rotateFrom(cred string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.credentials {
		if c == cred {
			p.cursor = (i + 1) % len(p.credentials)
			return
		}
	}
}
