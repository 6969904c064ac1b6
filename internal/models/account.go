package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds the security state this engine owns for one account.
// The counter/lock fields are only mutated through conditional updates
// keyed on LockVersion so that concurrent attempts serialize their
// read-modify-write (two concurrent failures must not both observe the
// same pre-threshold count).
type Account struct {
	ID                     uuid.UUID  `db:"id"`
	Email                  string     `db:"email"`
	Role                   string     `db:"role"`
	Status                 string     `db:"status"`
	FailedAttemptCount     int        `db:"failed_attempt_count"`
	LastFailedAttemptAt    *time.Time `db:"last_failed_attempt_at"`
	LockedUntil            *time.Time `db:"locked_until"`
	CaptchaRequiredSince   *time.Time `db:"captcha_required_since"`
	KnownOrigins           []string   `db:"known_origins"`
	KnownDeviceSignatures  []string   `db:"known_device_signatures"`
	LastSuccessfulOrigin   *string    `db:"last_successful_origin"`
	LastSuccessfulAt       *time.Time `db:"last_successful_at"`
	SecondFactorEnabled    bool       `db:"second_factor_enabled"`
	SecondFactorVerifiedAt *time.Time `db:"second_factor_verified_at"`
	SecondFactorPhone      *string    `db:"second_factor_phone"`
	TOTPSecretEncrypted    []byte     `db:"totp_secret_encrypted"`
	TOTPSecretNonce        []byte     `db:"totp_secret_nonce"`
	LockVersion            int64      `db:"lock_version"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// IsLocked reports whether the account is locked at the given instant.
// An account is locked iff locked_until is set and still in the future.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// EffectiveFailedAttempts returns the failure count within the active
// window. Once the window has elapsed since the last failure the stored
// count is stale and the effective count is zero (lazy reset; no
// background job touches the row).
func (a *Account) EffectiveFailedAttempts(now time.Time, window time.Duration) int {
	if a.LastFailedAttemptAt == nil {
		return 0
	}
	if now.Sub(*a.LastFailedAttemptAt) > window {
		return 0
	}
	return a.FailedAttemptCount
}

// KnowsOrigin reports whether origin is already in the account's known set.
func (a *Account) KnowsOrigin(origin string) bool {
	for _, o := range a.KnownOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// KnowsDevice reports whether the device signature has been seen before.
func (a *Account) KnowsDevice(signature string) bool {
	for _, s := range a.KnownDeviceSignatures {
		if s == signature {
			return true
		}
	}
	return false
}
