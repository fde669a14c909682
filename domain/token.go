package domain

import "time"

// RevokeReason explains why a refresh token row was revoked. Rows are
// immutable once revoked; rotation inserts a successor instead of
// mutating the old value, leaving an audit trail of the chain.
type RevokeReason string

const (
	RevokeReasonRotated       RevokeReason = "ROTATED"
	RevokeReasonReuseDetected RevokeReason = "REUSE_DETECTED"
	RevokeReasonPasswordReset RevokeReason = "PASSWORD_RESET"
)

// RefreshToken is one link of a rotation chain. Only the sha256 hex of the
// raw token value is stored. At most one non-revoked row exists per
// FamilyID at any time; revoking with reason REUSE_DETECTED revokes every
// row sharing the family.
type RefreshToken struct {
	ID            string       `bson:"_id,omitempty" json:"id"`
	FamilyID      string       `bson:"family_id" json:"family_id"`
	TokenHash     string       `bson:"token_hash" json:"-"`
	UserID        string       `bson:"user_id" json:"user_id"`
	AccountID     string       `bson:"account_id" json:"account_id"`
	ApplicationID string       `bson:"application_id" json:"application_id"`
	ExpiresAt     time.Time    `bson:"expires_at" json:"expires_at"`
	CreatedAt     time.Time    `bson:"created_at" json:"created_at"`
	LastUsedAt    *time.Time   `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	Revoked       bool         `bson:"revoked" json:"revoked"`
	RevokedAt     *time.Time   `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	RevokedReason RevokeReason `bson:"revoked_reason,omitempty" json:"revoked_reason,omitempty"`
}

// TokenResponse is the wire shape returned by the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
	Scope        string `json:"scope,omitempty"`
}
