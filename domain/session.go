package domain

import "time"

// Session is an opaque server-side user session. The cookie carries only
// the session id, never claims; permissions are recomputed per request so
// role changes take effect without re-login.
type Session struct {
	ID         string    `bson:"_id" json:"id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	AccountID  string    `bson:"account_id" json:"account_id"`
	IPAddress  string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent  string    `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}

// Expired reports whether the session passed its TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
