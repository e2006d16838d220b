// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultServerPort is the gateway listen port.
const DefaultServerPort = 8787

// DefaultServerReadTimeout bounds request header/body reads.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed client request body (2MB).
const MaxRequestBodySize = 2 * 1024 * 1024

// =============================================================================
// STREAMING
// =============================================================================

// DefaultStreamBudget bounds one streaming session's wall clock. Chosen to
// sit inside the platform's 300s execution ceiling with margin for
// admission, telemetry, and response finalization.
const DefaultStreamBudget = 280 * time.Second

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// =============================================================================
// ADMISSION
// =============================================================================

// DefaultVoiceDailyLimit is voice synthesis requests per identity per day.
const DefaultVoiceDailyLimit = 3

// DefaultTextDailyLimit is chat completions per identity per day.
const DefaultTextDailyLimit = 50

// Exempt prompt categories. Requests in these categories are system
// internal and never consume caller quota.
const (
	CategoryScheduledRefresh = "scheduled_refresh"
	CategoryBackgroundJob    = "background_job"
)

// =============================================================================
// VOICE POOL
// =============================================================================

// DefaultSynthesisBaseURL is the pooled speech-synthesis service.
const DefaultSynthesisBaseURL = "https://api.elevenlabs.io"

// DefaultHealthCacheTTL is how long a credential health check stays fresh.
const DefaultHealthCacheTTL = 60 * time.Second

// RateLimitedCooldown forces a re-check shortly after an upstream 429.
const RateLimitedCooldown = 60 * time.Second

// NearLimitFraction marks a credential near-limit at 80% usage.
const NearLimitFraction = 0.8

// =============================================================================
// STORE
// =============================================================================

// DefaultStorePath is the SQLite database location.
const DefaultStorePath = "seeme.db"
