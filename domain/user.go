package domain

import "time"

// UserStatus defines the possible statuses of a user account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusDisabled UserStatus = "DISABLED"
)

// User represents an interactive principal belonging to one account.
type User struct {
	ID           string     `bson:"_id,omitempty" json:"id"`
	AccountID    string     `bson:"account_id" json:"account_id"`
	Email        string     `bson:"email" json:"email"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	IsAdmin      bool       `bson:"is_admin" json:"is_admin"`
	Status       UserStatus `bson:"status" json:"status"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`

	// Lockout counters. A LockedUntil in the future means credentials are
	// rejected regardless of correctness.
	FailedLoginAttempts int        `bson:"failed_login_attempts,omitempty" json:"-"`
	LockedUntil         *time.Time `bson:"locked_until,omitempty" json:"-"`
}

// IsLocked reports whether the user is currently locked out.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
