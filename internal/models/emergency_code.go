package models

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyCode is one single-use, time-boxed credential issued by an
// administrator for an account locked out of its second factor. Only the
// bcrypt hash is ever persisted; the plaintext exists once, in memory, at
// generation time.
type EmergencyCode struct {
	ID        uuid.UUID  `db:"id"`
	AccountID uuid.UUID  `db:"account_id"`
	CodeHash  string     `db:"code_hash"`
	IssuedBy  uuid.UUID  `db:"issued_by"`
	Reason    string     `db:"reason"`
	ExpiresAt time.Time  `db:"expires_at"`
	Used      bool       `db:"used"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// IsRedeemable reports whether the code can still be redeemed.
func (c *EmergencyCode) IsRedeemable(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
