package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/services"
)

// Context keys under which the middleware stores resolved values.
const (
	ContextKeySession   = "iam.session"
	ContextKeyPrincipal = "iam.principal"
)

// SessionAuth resolves the session cookie into a principal.
type SessionAuth struct {
	sessions *services.SessionService
	users    domain.UserRepository
}

func NewSessionAuth(sessions *services.SessionService, users domain.UserRepository) *SessionAuth {
	return &SessionAuth{sessions: sessions, users: users}
}

// Optional attaches the session and principal when a valid cookie is
// present and continues either way.
func (m *SessionAuth) Optional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.resolve(c); err != nil {
			log.Debug().Err(err).Msg("session resolution failed")
		}
		return next(c)
	}
}

// Require rejects the request with 401 unless a valid session cookie is
// presented.
func (m *SessionAuth) Require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.resolve(c); err != nil {
			return c.JSON(http.StatusUnauthorized, serrors.Body(serrors.NewUnauthenticated("authentication required")))
		}
		if _, ok := SessionFrom(c); !ok {
			return c.JSON(http.StatusUnauthorized, serrors.Body(serrors.NewUnauthenticated("authentication required")))
		}
		return next(c)
	}
}

func (m *SessionAuth) resolve(c echo.Context) error {
	cookie, err := c.Cookie(services.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	ctx := c.Request().Context()
	session, err := m.sessions.Resolve(ctx, cookie.Value)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil
		}
		return err
	}
	user, err := m.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.Status != domain.UserStatusActive {
		return nil
	}

	principal := &domain.Principal{
		ID:        user.ID,
		Type:      domain.PrincipalTypeUser,
		AccountID: user.AccountID,
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
	}
	c.Set(ContextKeySession, session)
	c.Set(ContextKeyPrincipal, principal)
	c.SetRequest(c.Request().WithContext(domain.ContextWithPrincipal(ctx, principal)))
	return nil
}

// SessionFrom returns the resolved session, if any.
func SessionFrom(c echo.Context) (*domain.Session, bool) {
	session, ok := c.Get(ContextKeySession).(*domain.Session)
	return session, ok
}

// PrincipalFrom returns the resolved principal, if any.
func PrincipalFrom(c echo.Context) (*domain.Principal, bool) {
	principal, ok := c.Get(ContextKeyPrincipal).(*domain.Principal)
	return principal, ok
}
