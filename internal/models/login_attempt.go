package models

import (
	"time"

	"github.com/google/uuid"
)

// Anomaly reason codes attached to attempt records by the risk scorer
const (
	AnomalyNewCountry          = "NEW_COUNTRY"
	AnomalyNewLocation         = "NEW_LOCATION"
	AnomalyNewDevice           = "NEW_DEVICE"
	AnomalyImpossibleTravel    = "IMPOSSIBLE_TRAVEL"
	AnomalySuspiciousUserAgent = "SUSPICIOUS_USER_AGENT"
)

// LoginAttempt is one record in the append-only attempt ledger. Records
// are immutable once written; they are never updated or deleted except by
// retention cleanup after expires_at.
type LoginAttempt struct {
	ID              uuid.UUID  `db:"id"`
	AccountID       *uuid.UUID `db:"account_id"` // nil when the identifier resolved to no account
	Identifier      string     `db:"identifier"`
	IPAddress       string     `db:"ip_address"`
	UserAgent       string     `db:"user_agent"`
	DeviceSignature string     `db:"device_signature"`
	AttemptTime     time.Time  `db:"attempt_time"`
	Success         bool       `db:"success"`
	FailureReason   *string    `db:"failure_reason"`
	CaptchaRequired bool       `db:"captcha_required"`
	CaptchaVerified *bool      `db:"captcha_verified"`
	Country         *string    `db:"country"`
	Region          *string    `db:"region"`
	City            *string    `db:"city"`
	IsAnomalous     bool       `db:"is_anomalous"`
	AnomalyReasons  []string   `db:"anomaly_reasons"`
	ExpiresAt       time.Time  `db:"expires_at"`
}

// OriginActivity aggregates attempt counts for a single origin within a
// window, used by the velocity-attack check.
type OriginActivity struct {
	IPAddress    string
	AttemptCount int
	AccountCount int
}

// WindowStats aggregates success/failure totals over a window, used by
// the failure-rate checks.
type WindowStats struct {
	Total    int
	Failures int
}

// FailureRate returns failures/total, or 0 when the window saw no events.
func (s WindowStats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Total)
}
