package domain

import "time"

// ClientType distinguishes confidential clients (hold a secret) from
// public ones (authenticate via PKCE possession only).
type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// Application is an OAuth client registered under one account.
//
// ClientSecretHash holds the sha256 hex of the client secret for
// confidential clients and is empty for public ones. SigningSecret is the
// per-application HMAC key used to sign access tokens; compromise of one
// application's signing material does not expose tokens of another.
type Application struct {
	ID               string     `bson:"_id,omitempty" json:"id"`
	AccountID        string     `bson:"account_id" json:"account_id"`
	Slug             string     `bson:"slug" json:"slug"`
	Name             string     `bson:"name" json:"name"`
	ClientID         string     `bson:"client_id" json:"client_id"`
	ClientSecretHash string     `bson:"client_secret_hash,omitempty" json:"-"`
	SigningSecret    string     `bson:"signing_secret" json:"-"`
	ClientType       ClientType `bson:"client_type" json:"client_type"`
	CallbackURLs     []string   `bson:"callback_urls" json:"callback_urls"`
	RequireMFA       bool       `bson:"require_mfa" json:"require_mfa"`
	Active           bool       `bson:"active" json:"active"`

	// Token lifetimes in seconds.
	AuthCodeExp     int `bson:"auth_code_exp" json:"auth_code_exp"`
	AccessTokenExp  int `bson:"access_token_exp" json:"access_token_exp"`
	RefreshTokenExp int `bson:"refresh_token_exp" json:"refresh_token_exp"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsPublic reports whether the application is a public client.
func (a *Application) IsPublic() bool {
	return a.ClientType == ClientTypePublic
}

// AllowsCallback reports whether uri is one of the configured callback
// URLs. Matching is exact, no prefix or wildcard semantics.
func (a *Application) AllowsCallback(uri string) bool {
	for _, cb := range a.CallbackURLs {
		if cb == uri {
			return true
		}
	}
	return false
}
