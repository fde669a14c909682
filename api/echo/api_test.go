package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qodari/iam/cache"
	"github.com/qodari/iam/domain"
	"github.com/qodari/iam/internal/auth"
	"github.com/qodari/iam/middleware"
	"github.com/qodari/iam/services"
)

// Static repository stubs. The handler tests exercise routing, cookies and
// response shapes; service behavior has its own tests.

type stubAccounts struct{ account *domain.Account }

func (s stubAccounts) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	if s.account != nil && s.account.ID == id {
		return s.account, nil
	}
	return nil, domain.ErrNotFound
}

func (s stubAccounts) GetAccountBySlug(_ context.Context, slug string) (*domain.Account, error) {
	if s.account != nil && s.account.Slug == slug {
		return s.account, nil
	}
	return nil, domain.ErrNotFound
}

type stubApps struct{ app *domain.Application }

func (s stubApps) GetApplicationByID(_ context.Context, id string) (*domain.Application, error) {
	if s.app != nil && s.app.ID == id {
		return s.app, nil
	}
	return nil, domain.ErrNotFound
}

func (s stubApps) GetApplicationByClientID(_ context.Context, clientID string) (*domain.Application, error) {
	if s.app != nil && s.app.ClientID == clientID {
		return s.app, nil
	}
	return nil, domain.ErrNotFound
}

func (s stubApps) GetApplicationBySlug(_ context.Context, accountID, slug string) (*domain.Application, error) {
	if s.app != nil && s.app.AccountID == accountID && s.app.Slug == slug {
		return s.app, nil
	}
	return nil, domain.ErrNotFound
}

type stubUsers struct{ user *domain.User }

func (s stubUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, domain.ErrNotFound
}

func (s stubUsers) GetUserByEmail(_ context.Context, accountID, email string) (*domain.User, error) {
	if s.user != nil && s.user.AccountID == accountID && s.user.Email == email {
		return s.user, nil
	}
	return nil, domain.ErrNotFound
}

func (s stubUsers) RecordLoginFailure(context.Context, string, int, *time.Time) error { return nil }
func (s stubUsers) RecordLoginSuccess(context.Context, string, time.Time) error      { return nil }

type stubRoles struct{}

func (stubRoles) ListRolesForPrincipal(context.Context, string, domain.PrincipalType, string, string) ([]*domain.Role, error) {
	return nil, nil
}

func (stubRoles) ListPermissionsForRoles(context.Context, []string) ([]*domain.Permission, error) {
	return nil, nil
}

type stubApiClients struct{}

func (stubApiClients) GetApiClientByClientID(context.Context, string) (*domain.ApiClient, error) {
	return nil, domain.ErrNotFound
}

type stubRefreshTokens struct{}

func (stubRefreshTokens) SaveRefreshToken(context.Context, *domain.RefreshToken) error { return nil }
func (stubRefreshTokens) GetRefreshTokenByHash(context.Context, string, string) (*domain.RefreshToken, error) {
	return nil, domain.ErrNotFound
}
func (stubRefreshTokens) RotateRefreshToken(context.Context, string, *domain.RefreshToken, time.Time) error {
	return nil
}
func (stubRefreshTokens) RevokeFamily(context.Context, string, domain.RevokeReason, time.Time) (int64, error) {
	return 0, nil
}
func (stubRefreshTokens) RevokeAllForUser(context.Context, string, domain.RevokeReason, time.Time) (int64, error) {
	return 0, nil
}
func (stubRefreshTokens) DeleteExpiredRefreshTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Minimal in-memory stores backing the session, code and counter paths.

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*domain.Session
}

func (m *memSessions) StoreSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *memSessions) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memSessions) TouchSession(context.Context, string, time.Time) error { return nil }

func (m *memSessions) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memSessions) DeleteSessionsForUser(context.Context, string) (int64, error) { return 0, nil }
func (m *memSessions) DeleteExpiredSessions(context.Context) (int64, error)         { return 0, nil }

type memCodes struct {
	mu   sync.Mutex
	rows map[string]*domain.AuthCode
}

func (m *memCodes) SaveAuthCode(_ context.Context, c *domain.AuthCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.Code] = c
	return nil
}

func (m *memCodes) ConsumeAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[code]
	if !ok || row.Used {
		return nil, domain.ErrNotFound
	}
	before := *row
	row.Used = true
	return &before, nil
}

func (m *memCodes) DeleteExpiredAuthCodes(context.Context) (int64, error) { return 0, nil }

type memMfa struct {
	mu   sync.Mutex
	rows map[string]*domain.MfaChallenge
}

func (m *memMfa) StoreChallenge(_ context.Context, c *domain.MfaChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID] = c
	return nil
}

func (m *memMfa) GetChallengeByID(_ context.Context, id string) (*domain.MfaChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memMfa) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *memMfa) ReplaceChallengeCode(_ context.Context, id, hash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		c.CodeHash = hash
		c.ExpiresAt = exp
		c.Attempts = 0
	}
	return nil
}

func (m *memMfa) DeleteChallenge(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memMfa) DeleteExpiredChallenges(context.Context) (int64, error) { return 0, nil }

type memCounters struct {
	mu   sync.Mutex
	rows map[string]*domain.RateLimitCounter
}

func (m *memCounters) Hit(_ context.Context, key string, window time.Duration) (*domain.RateLimitCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	c, ok := m.rows[key]
	if !ok || now.Sub(c.WindowStart) >= window {
		c = &domain.RateLimitCounter{Key: key, WindowStart: now, Count: 1}
		m.rows[key] = c
	} else {
		c.Count++
	}
	copied := *c
	return &copied, nil
}

func (m *memCounters) DeleteStaleCounters(context.Context, time.Time) (int64, error) { return 0, nil }

type fixture struct {
	e      *echo.Echo
	app    *domain.Application
	user   *domain.User
	codes  *memCodes
	svc    *services.SessionService
	limits *memCounters
}

func newFixture(t *testing.T, requireMFA bool) *fixture {
	t.Helper()

	hasher := auth.NewArgon2Hasher(auth.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	passwordHash, err := hasher.Hash("hunter2!")
	require.NoError(t, err)

	account := &domain.Account{ID: "acct-1", Slug: "acme", Status: domain.AccountStatusActive}
	app := &domain.Application{
		ID:              "app-1",
		AccountID:       "acct-1",
		Slug:            "portal",
		ClientID:        "client-1",
		SigningSecret:   "signing-secret",
		ClientType:      domain.ClientTypeConfidential,
		CallbackURLs:    []string{"https://app.example.com/cb"},
		RequireMFA:      requireMFA,
		Active:          true,
		AuthCodeExp:     60,
		AccessTokenExp:  900,
		RefreshTokenExp: 604800,
	}
	user := &domain.User{
		ID:           "user-1",
		AccountID:    "acct-1",
		Email:        "jane@example.com",
		PasswordHash: passwordHash,
		Status:       domain.UserStatusActive,
	}

	f := &fixture{
		app:    app,
		user:   user,
		codes:  &memCodes{rows: map[string]*domain.AuthCode{}},
		limits: &memCounters{rows: map[string]*domain.RateLimitCounter{}},
	}

	directory := cache.NewDirectory(stubAccounts{account}, stubApps{app}, time.Minute)
	limiter := services.NewRateLimiter(f.limits)
	resolver := services.NewRoleResolver(stubRoles{})
	f.svc = services.NewSessionService(&memSessions{rows: map[string]*domain.Session{}}, time.Hour, false)
	users := stubUsers{user}
	mfa := services.NewMfaService(&memMfa{rows: map[string]*domain.MfaChallenge{}}, users, services.LogMailer{}, limiter)
	authCodes := services.NewAuthCodeService(f.codes)
	tokens := services.NewTokenService(directory, users, stubApiClients{}, stubRefreshTokens{}, authCodes, resolver, hasher, "https://iam.test")
	login := services.NewLoginService(directory, users, f.svc, mfa, hasher, limiter)

	sessionAuth := middleware.NewSessionAuth(f.svc, users)
	api := NewAuthAPI(login, tokens, authCodes, f.svc, directory, resolver, limiter, sessionAuth)

	f.e = echo.New()
	api.RegisterRoutes(f.e)
	return f
}

func (f *fixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	session, err := f.svc.Create(context.Background(), f.user.ID, f.user.AccountID, services.RequestMeta{})
	require.NoError(t, err)
	return &http.Cookie{Name: services.SessionCookieName, Value: session.ID}
}

func postJSON(e *echo.Echo, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("valid credentials set the session cookie", func(t *testing.T) {
		f := newFixture(t, false)
		rec := postJSON(f.e, "/auth/login", `{"accountSlug":"acme","appSlug":"portal","email":"jane@example.com","password":"hunter2!"}`)

		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, services.SessionCookieName, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body, "user")
	})

	t.Run("MFA application returns the challenge token instead", func(t *testing.T) {
		f := newFixture(t, true)
		rec := postJSON(f.e, "/auth/login", `{"accountSlug":"acme","appSlug":"portal","email":"jane@example.com","password":"hunter2!"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Result().Cookies())

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["mfaRequired"])
		assert.NotEmpty(t, body["mfaToken"])
		assert.Equal(t, "j***e@example.com", body["maskedEmail"])
	})

	t.Run("bad password is 401", func(t *testing.T) {
		f := newFixture(t, false)
		rec := postJSON(f.e, "/auth/login", `{"accountSlug":"acme","appSlug":"portal","email":"jane@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthorizeEndpoint(t *testing.T) {
	authorizeURL := "/oauth/authorize?response_type=code&client_id=client-1&redirect_uri=" +
		url.QueryEscape("https://app.example.com/cb") + "&state=xyz"

	t.Run("without a session redirects to login", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, authorizeURL, nil)
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get(echo.HeaderLocation)
		assert.True(t, strings.HasPrefix(location, "/acme"+LoginPagePath+"?redirect="))
	})

	t.Run("with a session redirects back with a code", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, authorizeURL, nil)
		req.AddCookie(f.sessionCookie(t))
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", location.Host)
		assert.NotEmpty(t, location.Query().Get("code"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
	})

	t.Run("unsupported response_type is delivered on the redirect", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet,
			"/oauth/authorize?response_type=token&client_id=client-1&redirect_uri="+url.QueryEscape("https://app.example.com/cb"), nil)
		req.AddCookie(f.sessionCookie(t))
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
		require.NoError(t, err)
		assert.Equal(t, "unsupported_response_type", location.Query().Get("error"))
	})

	t.Run("unknown client is answered directly", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?response_type=code&client_id=ghost", nil)
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTokenEndpoint(t *testing.T) {
	t.Run("full authorization code exchange", func(t *testing.T) {
		f := newFixture(t, false)
		f.app.ClientSecretHash = auth.HashSecret("client-secret")

		// Get a code through the front channel.
		req := httptest.NewRequest(http.MethodGet,
			"/oauth/authorize?response_type=code&client_id=client-1&redirect_uri="+url.QueryEscape("https://app.example.com/cb"), nil)
		req.AddCookie(f.sessionCookie(t))
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
		require.NoError(t, err)
		code := location.Query().Get("code")
		require.NotEmpty(t, code)

		rec = postJSON(f.e, "/auth/token",
			`{"grant_type":"authorization_code","client_id":"client-1","client_secret":"client-secret","code":"`+code+`","redirect_uri":"https://app.example.com/cb"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["accessToken"])
		assert.Equal(t, "Bearer", body["tokenType"])
		assert.Equal(t, float64(900), body["expiresIn"])
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		f := newFixture(t, false)
		rec := postJSON(f.e, "/auth/token", `{"grant_type":"password","client_id":"client-1"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unsupported_grant_type", body["error"])
	})

	t.Run("rate limited requests get 429 with headers", func(t *testing.T) {
		f := newFixture(t, false)
		var rec *httptest.ResponseRecorder
		for range 21 {
			rec = postJSON(f.e, "/auth/token", `{"grant_type":"password","client_id":"client-1"}`)
		}

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})
}

func TestMeAndLogoutEndpoints(t *testing.T) {
	t.Run("me requires a session", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("me returns the principal and application access", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, "/auth/me?application=client-1", nil)
		req.AddCookie(f.sessionCookie(t))
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "acct-1", body["accountId"])
		assert.Contains(t, body, "roles")
		assert.Contains(t, body, "permissions")
	})

	t.Run("logout destroys the session and clears the cookie", func(t *testing.T) {
		f := newFixture(t, false)
		cookie := f.sessionCookie(t)

		rec := postJSON(f.e, "/auth/logout", "", cookie)
		require.Equal(t, http.StatusNoContent, rec.Code)

		cleared := rec.Result().Cookies()
		require.Len(t, cleared, 1)
		assert.Equal(t, services.SessionCookieName, cleared[0].Name)
		assert.Equal(t, -1, cleared[0].MaxAge)

		// The old cookie no longer authenticates.
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(cookie)
		check := httptest.NewRecorder()
		f.e.ServeHTTP(check, req)
		assert.Equal(t, http.StatusUnauthorized, check.Code)
	})

	t.Run("logout without a session is still 204", func(t *testing.T) {
		f := newFixture(t, false)
		rec := postJSON(f.e, "/auth/logout", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
