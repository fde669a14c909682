package domain

import "time"

// ApiClientStatus defines the possible statuses of a machine client.
type ApiClientStatus string

const (
	ApiClientStatusActive   ApiClientStatus = "ACTIVE"
	ApiClientStatusDisabled ApiClientStatus = "DISABLED"
)

// ApiClient is a machine principal belonging to one account. It is a
// distinct principal type from User: it authenticates with a client id and
// secret through the client_credentials grant and never owns a session.
type ApiClient struct {
	ID         string          `bson:"_id,omitempty" json:"id"`
	AccountID  string          `bson:"account_id" json:"account_id"`
	Name       string          `bson:"name" json:"name"`
	ClientID   string          `bson:"client_id" json:"client_id"`
	SecretHash string          `bson:"secret_hash" json:"-"`
	Status     ApiClientStatus `bson:"status" json:"status"`

	// AccessTokenExp is the access token lifetime in seconds.
	AccessTokenExp int `bson:"access_token_exp" json:"access_token_exp"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
