package domain

import "time"

// AccountStatus enumerates the lifecycle states of a tenant account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account represents a tenant. The slug is the routing key used in URLs
// and login requests.
type Account struct {
	ID        string        `bson:"_id,omitempty" json:"id"`
	Slug      string        `bson:"slug" json:"slug"`
	Name      string        `bson:"name" json:"name"`
	Status    AccountStatus `bson:"status" json:"status"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the account may authenticate principals.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}
