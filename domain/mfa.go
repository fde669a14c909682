package domain

import "time"

// MfaMaxAttempts caps verification attempts per challenge; the challenge
// is permanently rejected once exceeded.
const MfaMaxAttempts = 5

// MfaChallenge is a pending email one-time code. Only the sha256 hex of
// the 6-digit code is stored. The challenge expires three minutes after
// issuance regardless of attempts remaining.
type MfaChallenge struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	AccountID     string    `bson:"account_id" json:"account_id"`
	ApplicationID string    `bson:"application_id" json:"application_id"`
	CodeHash      string    `bson:"code_hash" json:"-"`
	Attempts      int       `bson:"attempts" json:"attempts"`
	ExpiresAt     time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// Expired reports whether the challenge window has passed.
func (m *MfaChallenge) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Exhausted reports whether the attempt cap has been reached.
func (m *MfaChallenge) Exhausted() bool {
	return m.Attempts >= MfaMaxAttempts
}
