package services

import (
	"context"
	"net/http"
	"time"

	"github.com/qodari/iam/domain"
	"github.com/qodari/iam/internal/metrics"
	"github.com/qodari/iam/internal/random"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "qodari_iam_session"

// DefaultSessionTTL applies when no explicit TTL is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// RequestMeta carries the client details recorded on a session.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// SessionService manages cookie-backed browser sessions. Session ids are
// opaque 256-bit random values; nothing about the user is derivable from
// the cookie.
type SessionService struct {
	sessions     domain.SessionRepository
	ttl          time.Duration
	secureCookie bool
}

func NewSessionService(sessions domain.SessionRepository, ttl time.Duration, secureCookie bool) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{sessions: sessions, ttl: ttl, secureCookie: secureCookie}
}

// Create opens a new session for the user.
func (s *SessionService) Create(ctx context.Context, userID, accountID string, meta RequestMeta) (*domain.Session, error) {
	id, err := random.Token(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := &domain.Session{
		ID:         id,
		UserID:     userID,
		AccountID:  accountID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.IncSessionCreated()
	return session, nil
}

// Resolve loads a session by id. An expired row is deleted on sight and
// reported as not found, so expiry holds even before the sweeper runs.
func (s *SessionService) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if session.Expired(now) {
		_ = s.sessions.DeleteSession(ctx, id)
		return nil, domain.ErrNotFound
	}
	if err := s.sessions.TouchSession(ctx, id, now); err != nil {
		return nil, err
	}
	session.LastSeenAt = now
	return session, nil
}

// Destroy removes the session.
func (s *SessionService) Destroy(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}

// DestroyAllForUser removes every session of the user, e.g. after a
// password reset.
func (s *SessionService) DestroyAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.sessions.DeleteSessionsForUser(ctx, userID)
}

// Cookie builds the session cookie for a freshly created session.
func (s *SessionService) Cookie(session *domain.Session) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt) / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds an expired cookie that removes the session cookie
// from the browser.
func (s *SessionService) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}
