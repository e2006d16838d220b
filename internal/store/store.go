// Package store is the durable record store behind the gateway.
//
// DESIGN: One SQLite database holds the small lookup rows the core reads
// (quota counters, ban tables, custom limits) and the append-only telemetry
// rows it writes fire-and-forget. Quota increments are single conditional
// UPDATEs so concurrent requests from the same identity never lose counts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("store: not found")

// QuotaRecord is the per-identity daily counter row.
type QuotaRecord struct {
	DeviceID    string
	UserID      string
	VoiceUsed   int
	TextUsed    int
	ResetAt     time.Time
	OwnsPremium bool
}

// BanRecord is one row of any of the three ban tables.
type BanRecord struct {
	Key       string
	Reason    string
	CreatedAt time.Time
}

// CredentialSnapshot is a point-in-time health record for one pooled
// credential, persisted for observability only.
type CredentialSnapshot struct {
	KeyMask   string    `json:"key_mask"`
	State     string    `json:"state"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Fraction  float64   `json:"fraction"`
	NextReset time.Time `json:"next_reset"`
	CheckedAt time.Time `json:"checked_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS quota_records (
	device_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	voice_used INTEGER NOT NULL DEFAULT 0,
	text_used INTEGER NOT NULL DEFAULT 0,
	reset_at DATETIME NOT NULL,
	owns_premium INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS banned_users (
	user_id TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS banned_devices (
	device_id TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS banned_addresses (
	address TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS custom_limits (
	user_id TEXT PRIMARY KEY,
	text_limit INTEGER NOT NULL DEFAULT 0,
	voice_limit INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credential_status (
	key_mask TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	cap INTEGER NOT NULL DEFAULT 0,
	fraction REAL NOT NULL DEFAULT 0,
	next_reset DATETIME,
	checked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_telemetry_kind_time ON telemetry_events(kind, created_at);
`

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// BANS (the core only reads these; writes come from operator tooling)
// =============================================================================

// UserBan returns the ban reason for a user, or ErrNotFound.
func (s *Store) UserBan(ctx context.Context, userID string) (string, error) {
	return s.banReason(ctx, `SELECT reason FROM banned_users WHERE user_id = ?`, userID)
}

// DeviceBan returns the ban reason for a device, or ErrNotFound.
func (s *Store) DeviceBan(ctx context.Context, deviceID string) (string, error) {
	return s.banReason(ctx, `SELECT reason FROM banned_devices WHERE device_id = ?`, deviceID)
}

// AddressBan returns the ban reason for a network address, or ErrNotFound.
func (s *Store) AddressBan(ctx context.Context, address string) (string, error) {
	return s.banReason(ctx, `SELECT reason FROM banned_addresses WHERE address = ?`, address)
}

// BanUser records a user ban.
func (s *Store) BanUser(ctx context.Context, userID, reason string) error {
	return s.banInsert(ctx, `INSERT INTO banned_users (user_id, reason) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET reason = excluded.reason`, userID, reason)
}

// BanDevice records a device ban.
func (s *Store) BanDevice(ctx context.Context, deviceID, reason string) error {
	return s.banInsert(ctx, `INSERT INTO banned_devices (device_id, reason) VALUES (?, ?)
		ON CONFLICT(device_id) DO UPDATE SET reason = excluded.reason`, deviceID, reason)
}

// BanAddress records a network address ban.
func (s *Store) BanAddress(ctx context.Context, address, reason string) error {
	return s.banInsert(ctx, `INSERT INTO banned_addresses (address, reason) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET reason = excluded.reason`, address, reason)
}

func (s *Store) banInsert(ctx context.Context, query, key, reason string) error {
	if key == "" {
		return errors.New("store: ban key is empty")
	}
	if _, err := s.db.ExecContext(ctx, query, key, reason); err != nil {
		return fmt.Errorf("ban insert: %w", err)
	}
	return nil
}

func (s *Store) banReason(ctx context.Context, query, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	var reason string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ban lookup: %w", err)
	}
	return reason, nil
}

// =============================================================================
// QUOTA
// =============================================================================

// Quota returns the quota record for a device, or ErrNotFound.
func (s *Store) Quota(ctx context.Context, deviceID string) (*QuotaRecord, error) {
	var rec QuotaRecord
	var premium int
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, user_id, voice_used, text_used, reset_at, owns_premium
		 FROM quota_records WHERE device_id = ?`, deviceID).
		Scan(&rec.DeviceID, &rec.UserID, &rec.VoiceUsed, &rec.TextUsed, &rec.ResetAt, &premium)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quota lookup: %w", err)
	}
	rec.OwnsPremium = premium != 0
	return &rec, nil
}

// CreateQuota inserts a fresh record with zeroed counters.
func (s *Store) CreateQuota(ctx context.Context, rec *QuotaRecord) error {
	premium := 0
	if rec.OwnsPremium {
		premium = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_records (device_id, user_id, voice_used, text_used, reset_at, owns_premium)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO NOTHING`,
		rec.DeviceID, rec.UserID, rec.VoiceUsed, rec.TextUsed, rec.ResetAt.UTC(), premium)
	if err != nil {
		return fmt.Errorf("quota create: %w", err)
	}
	return nil
}

// ResetQuotaIfDue zeroes both counters and advances the reset boundary, but
// only when the stored boundary has already passed. The guard keeps the
// reset lazy and idempotent under concurrent callers.
func (s *Store) ResetQuotaIfDue(ctx context.Context, deviceID string, now, nextReset time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quota_records SET voice_used = 0, text_used = 0, reset_at = ?
		 WHERE device_id = ? AND reset_at <= ?`,
		nextReset.UTC(), deviceID, now.UTC())
	if err != nil {
		return fmt.Errorf("quota reset: %w", err)
	}
	return nil
}

// IncrementQuota reserves one unit atomically. When force is false the
// UPDATE is conditional on the counter sitting under limit; zero rows
// affected means the identity is at its limit. The updated count is
// returned either way.
func (s *Store) IncrementQuota(ctx context.Context, deviceID string, voice bool, limit int, force bool) (used int, ok bool, err error) {
	column := "text_used"
	if voice {
		column = "voice_used"
	}

	var res sql.Result
	if force {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE quota_records SET %s = %s + 1 WHERE device_id = ?`, column, column),
			deviceID)
	} else {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE quota_records SET %s = %s + 1 WHERE device_id = ? AND %s < ?`, column, column, column),
			deviceID, limit)
	}
	if err != nil {
		return 0, false, fmt.Errorf("quota increment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("quota increment: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM quota_records WHERE device_id = ?`, column), deviceID).
		Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("quota readback: %w", err)
	}
	return used, n > 0, nil
}

// =============================================================================
// LIMITS
// =============================================================================

// CustomLimit returns a per-user stored limit override for the category.
// Zero means no override.
func (s *Store) CustomLimit(ctx context.Context, userID string, voice bool) (int, error) {
	if userID == "" {
		return 0, nil
	}
	column := "text_limit"
	if voice {
		column = "voice_limit"
	}
	var limit int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM custom_limits WHERE user_id = ?`, column), userID).
		Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("custom limit lookup: %w", err)
	}
	return limit, nil
}

// SetCustomLimit stores a per-user limit override. Zero values mean no
// override for that category.
func (s *Store) SetCustomLimit(ctx context.Context, userID string, textLimit, voiceLimit int) error {
	if userID == "" {
		return errors.New("store: custom limit user is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_limits (user_id, text_limit, voice_limit) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET text_limit = excluded.text_limit, voice_limit = excluded.voice_limit`,
		userID, textLimit, voiceLimit)
	if err != nil {
		return fmt.Errorf("custom limit save: %w", err)
	}
	return nil
}

// Setting returns an operator-set value, or "" when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("setting lookup: %w", err)
	}
	return value, nil
}

// SetSetting stores an operator setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting save: %w", err)
	}
	return nil
}

// SetPremium flags a device's quota record as backed by the caller's own
// upstream subscription.
func (s *Store) SetPremium(ctx context.Context, deviceID string, premium bool) error {
	flag := 0
	if premium {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE quota_records SET owns_premium = ? WHERE device_id = ?`, flag, deviceID)
	if err != nil {
		return fmt.Errorf("premium flag save: %w", err)
	}
	return nil
}

// =============================================================================
// CREDENTIAL STATUS SNAPSHOTS
// =============================================================================

// SaveCredentialStatus upserts the latest health snapshot for a credential.
func (s *Store) SaveCredentialStatus(ctx context.Context, snap CredentialSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credential_status (key_mask, state, used, cap, fraction, next_reset, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key_mask) DO UPDATE SET
		   state = excluded.state, used = excluded.used, cap = excluded.cap,
		   fraction = excluded.fraction, next_reset = excluded.next_reset,
		   checked_at = excluded.checked_at`,
		snap.KeyMask, snap.State, snap.Used, snap.Limit, snap.Fraction,
		snap.NextReset.UTC(), snap.CheckedAt.UTC())
	if err != nil {
		return fmt.Errorf("credential status save: %w", err)
	}
	return nil
}

// CredentialStatuses returns the latest snapshot per credential.
func (s *Store) CredentialStatuses(ctx context.Context) ([]CredentialSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_mask, state, used, cap, fraction, next_reset, checked_at
		 FROM credential_status ORDER BY key_mask`)
	if err != nil {
		return nil, fmt.Errorf("credential status list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CredentialSnapshot
	for rows.Next() {
		var snap CredentialSnapshot
		if err := rows.Scan(&snap.KeyMask, &snap.State, &snap.Used, &snap.Limit,
			&snap.Fraction, &snap.NextReset, &snap.CheckedAt); err != nil {
			return nil, fmt.Errorf("credential status scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// =============================================================================
// TELEMETRY
// =============================================================================

// AppendTelemetry inserts one telemetry event row. Payload is JSON.
func (s *Store) AppendTelemetry(ctx context.Context, kind, requestID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_events (kind, request_id, payload) VALUES (?, ?, ?)`,
		kind, requestID, string(payload))
	if err != nil {
		return fmt.Errorf("telemetry append: %w", err)
	}
	return nil
}

// TelemetryCount returns the number of stored events of one kind.
func (s *Store) TelemetryCount(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry_events WHERE kind = ?`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("telemetry count: %w", err)
	}
	return n, nil
}
