package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrRotationConflict is returned when a rotation loses the race for the
// current row: the token was revoked between lookup and update. Callers
// must treat this exactly like reuse of a revoked token.
var ErrRotationConflict = errors.New("refresh token rotation conflict")

// AccountRepository reads tenant accounts. Administration of accounts is
// an external collaborator; this core only looks them up.
type AccountRepository interface {
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountBySlug(ctx context.Context, slug string) (*Account, error)
}

// ApplicationRepository reads OAuth client applications.
type ApplicationRepository interface {
	GetApplicationByID(ctx context.Context, id string) (*Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (*Application, error)
	GetApplicationBySlug(ctx context.Context, accountID, slug string) (*Application, error)
}

// UserRepository reads users and maintains their lockout counters.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, accountID, email string) (*User, error)
	// RecordLoginFailure sets the failure counter and, when the caller
	// decided to lock, the lockout deadline.
	RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error
	// RecordLoginSuccess resets the failure counter and stamps the login.
	RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error
}

// ApiClientRepository reads machine clients.
type ApiClientRepository interface {
	GetApiClientByClientID(ctx context.Context, clientID string) (*ApiClient, error)
}

// RoleRepository resolves role assignments and role permission grants.
type RoleRepository interface {
	// ListRolesForPrincipal returns the principal's assigned roles filtered
	// to the given account and application.
	ListRolesForPrincipal(ctx context.Context, principalID string, principalType PrincipalType, accountID, applicationID string) ([]*Role, error)
	ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]*Permission, error)
}

// AuthCodeRepository persists authorization codes.
type AuthCodeRepository interface {
	SaveAuthCode(ctx context.Context, code *AuthCode) error
	// ConsumeAuthCode atomically flips used from false to true and returns
	// the row as it was before consumption. ErrNotFound means the code does
	// not exist or was already used; the two cases are indistinguishable on
	// purpose, both map to invalid_grant.
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error)
	DeleteExpiredAuthCodes(ctx context.Context) (int64, error)
}

// RefreshTokenRepository persists refresh token rotation chains.
type RefreshTokenRepository interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, applicationID, tokenHash string) (*RefreshToken, error)
	// RotateRefreshToken revokes the current row (reason ROTATED) and
	// inserts the successor in one transaction. Partial execution is never
	// visible: either both happen or neither. Returns ErrRotationConflict
	// when the current row was already revoked.
	RotateRefreshToken(ctx context.Context, currentID string, successor *RefreshToken, now time.Time) error
	RevokeFamily(ctx context.Context, familyID string, reason RevokeReason, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, at time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// SessionRepository persists opaque user sessions.
type SessionRepository interface {
	StoreSession(ctx context.Context, session *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// MfaRepository persists pending email second-factor challenges.
type MfaRepository interface {
	StoreChallenge(ctx context.Context, challenge *MfaChallenge) error
	GetChallengeByID(ctx context.Context, id string) (*MfaChallenge, error)
	// IncrementAttempts adds one to the attempt counter and returns the new
	// count. The increment is a single atomic update so concurrent guesses
	// never undercount.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// ReplaceChallengeCode swaps in a new code hash and expiry, resetting
	// the attempt counter.
	ReplaceChallengeCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error
	DeleteChallenge(ctx context.Context, id string) error
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

// RateLimitStore records one hit against a counter key in a single atomic
// round trip: insert with count 1, reset when the window elapsed,
// increment otherwise. Implementations exist for MongoDB and Redis with
// identical semantics.
type RateLimitStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (*RateLimitCounter, error)
	DeleteStaleCounters(ctx context.Context, before time.Time) (int64, error)
}
