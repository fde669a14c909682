package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/qodari/iam/domain"
)

// --- Mock repositories ---

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByEmail(ctx context.Context, accountID, email string) (*domain.User, error) {
	args := m.Called(ctx, accountID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	args := m.Called(ctx, userID, attempts, lockedUntil)
	return args.Error(0)
}

func (m *MockUserRepository) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockAccountRepository) GetAccountBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

type MockApplicationRepository struct {
	mock.Mock
}

func (m *MockApplicationRepository) GetApplicationByID(ctx context.Context, id string) (*domain.Application, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Application), args.Error(1)
}

func (m *MockApplicationRepository) GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Application), args.Error(1)
}

func (m *MockApplicationRepository) GetApplicationBySlug(ctx context.Context, accountID, slug string) (*domain.Application, error) {
	args := m.Called(ctx, accountID, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Application), args.Error(1)
}

type MockApiClientRepository struct {
	mock.Mock
}

func (m *MockApiClientRepository) GetApiClientByClientID(ctx context.Context, clientID string) (*domain.ApiClient, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ApiClient), args.Error(1)
}

type MockRoleRepository struct {
	mock.Mock
}

func (m *MockRoleRepository) ListRolesForPrincipal(ctx context.Context, principalID string, principalType domain.PrincipalType, accountID, applicationID string) ([]*domain.Role, error) {
	args := m.Called(ctx, principalID, principalType, accountID, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Role), args.Error(1)
}

func (m *MockRoleRepository) ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]*domain.Permission, error) {
	args := m.Called(ctx, roleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Permission), args.Error(1)
}

// --- In-memory fakes ---
//
// The stores below carry semantics the services depend on (atomic consume,
// rotation conflicts, window resets), so the tests use real in-memory
// implementations instead of expectation mocks. Each takes its clock from
// the `now` field so expiry paths are testable without sleeping.

type fakeRateLimitStore struct {
	mu       sync.Mutex
	counters map[string]*domain.RateLimitCounter
	now      func() time.Time
}

func newFakeRateLimitStore() *fakeRateLimitStore {
	return &fakeRateLimitStore{
		counters: make(map[string]*domain.RateLimitCounter),
		now:      time.Now,
	}
}

func (f *fakeRateLimitStore) Hit(_ context.Context, key string, window time.Duration) (*domain.RateLimitCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	counter, ok := f.counters[key]
	if !ok || now.Sub(counter.WindowStart) >= window {
		counter = &domain.RateLimitCounter{Key: key, WindowStart: now, Count: 1}
		f.counters[key] = counter
	} else {
		counter.Count++
	}
	copied := *counter
	return &copied, nil
}

func (f *fakeRateLimitStore) DeleteStaleCounters(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, counter := range f.counters {
		if counter.WindowStart.Before(before) {
			delete(f.counters, key)
			n++
		}
	}
	return n, nil
}

type memAuthCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*domain.AuthCode
}

func newMemAuthCodeRepository() *memAuthCodeRepository {
	return &memAuthCodeRepository{codes: make(map[string]*domain.AuthCode)}
}

func (r *memAuthCodeRepository) SaveAuthCode(_ context.Context, code *domain.AuthCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *code
	r.codes[code.Code] = &copied
	return nil
}

func (r *memAuthCodeRepository) ConsumeAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.codes[code]
	if !ok || row.Used {
		return nil, domain.ErrNotFound
	}
	before := *row
	row.Used = true
	return &before, nil
}

func (r *memAuthCodeRepository) DeleteExpiredAuthCodes(_ context.Context) (int64, error) {
	return 0, nil
}

type memRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newMemRefreshTokenRepository() *memRefreshTokenRepository {
	return &memRefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *memRefreshTokenRepository) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *token
	r.tokens[token.ID] = &copied
	return nil
}

func (r *memRefreshTokenRepository) GetRefreshTokenByHash(_ context.Context, applicationID, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.tokens {
		if row.ApplicationID == applicationID && row.TokenHash == tokenHash {
			copied := *row
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRefreshTokenRepository) RotateRefreshToken(_ context.Context, currentID string, successor *domain.RefreshToken, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tokens[currentID]
	if !ok || current.Revoked {
		return domain.ErrRotationConflict
	}
	current.Revoked = true
	current.RevokedReason = domain.RevokeReasonRotated
	current.RevokedAt = &now
	current.LastUsedAt = &now
	copied := *successor
	r.tokens[successor.ID] = &copied
	return nil
}

func (r *memRefreshTokenRepository) RevokeFamily(_ context.Context, familyID string, reason domain.RevokeReason, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.tokens {
		if row.FamilyID == familyID && !row.Revoked {
			row.Revoked = true
			row.RevokedReason = reason
			row.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokenRepository) RevokeAllForUser(_ context.Context, userID string, reason domain.RevokeReason, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.tokens {
		if row.UserID == userID && !row.Revoked {
			row.Revoked = true
			row.RevokedReason = reason
			row.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokenRepository) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *memRefreshTokenRepository) get(id string) *domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.tokens[id]; ok {
		copied := *row
		return &copied
	}
	return nil
}

func (r *memRefreshTokenRepository) all() []*domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.RefreshToken, 0, len(r.tokens))
	for _, row := range r.tokens {
		copied := *row
		out = append(out, &copied)
	}
	return out
}

type memSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionRepository() *memSessionRepository {
	return &memSessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *memSessionRepository) StoreSession(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *memSessionRepository) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *memSessionRepository) TouchSession(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.sessions[id]; ok {
		row.LastSeenAt = at
	}
	return nil
}

func (r *memSessionRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepository) DeleteSessionsForUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, row := range r.sessions {
		if row.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepository) DeleteExpiredSessions(_ context.Context) (int64, error) {
	return 0, nil
}

type memMfaRepository struct {
	mu         sync.Mutex
	challenges map[string]*domain.MfaChallenge
}

func newMemMfaRepository() *memMfaRepository {
	return &memMfaRepository{challenges: make(map[string]*domain.MfaChallenge)}
}

func (r *memMfaRepository) StoreChallenge(_ context.Context, challenge *domain.MfaChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *challenge
	r.challenges[challenge.ID] = &copied
	return nil
}

func (r *memMfaRepository) GetChallengeByID(_ context.Context, id string) (*domain.MfaChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.challenges[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *memMfaRepository) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.challenges[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	row.Attempts++
	return row.Attempts, nil
}

func (r *memMfaRepository) ReplaceChallengeCode(_ context.Context, id, codeHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.CodeHash = codeHash
	row.ExpiresAt = expiresAt
	row.Attempts = 0
	return nil
}

func (r *memMfaRepository) DeleteChallenge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, id)
	return nil
}

func (r *memMfaRepository) DeleteExpiredChallenges(_ context.Context) (int64, error) {
	return 0, nil
}

func (r *memMfaRepository) set(challenge *domain.MfaChallenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *challenge
	r.challenges[challenge.ID] = &copied
}

// captureMailer records every code it was asked to send.
type captureMailer struct {
	mu    sync.Mutex
	sent  []string
	codes []string
}

func (m *captureMailer) SendMfaCode(_ context.Context, toEmail, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, toEmail)
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		return ""
	}
	return m.codes[len(m.codes)-1]
}
