package domain

import "time"

// AuthCode represents an OAuth 2.0 authorization code. A code is single
// use: once Used is set it is permanently rejected, and marking it used is
// the atomic gate for token issuance.
type AuthCode struct {
	Code          string    `bson:"_id" json:"code"`
	UserID        string    `bson:"user_id" json:"user_id"`
	AccountID     string    `bson:"account_id" json:"account_id"`
	ApplicationID string    `bson:"application_id" json:"application_id"`
	RedirectURI   string    `bson:"redirect_uri" json:"redirect_uri"`
	Scope         string    `bson:"scope,omitempty" json:"scope,omitempty"`
	State         string    `bson:"state,omitempty" json:"state,omitempty"`
	ExpiresAt     time.Time `bson:"expires_at" json:"expires_at"`
	Used          bool      `bson:"used" json:"used"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`

	CodeChallenge       string `bson:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod string `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
}

// HasChallenge reports whether a PKCE challenge was recorded at issuance.
func (c *AuthCode) HasChallenge() bool {
	return c.CodeChallenge != ""
}
