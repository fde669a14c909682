package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/cache"
	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/internal/auth"
	"github.com/qodari/iam/internal/metrics"
)

// Lockout policy: this many consecutive failures locks the user out for
// the given duration. The counter resets on a successful login.
const (
	lockoutThreshold = 10
	lockoutDuration  = 15 * time.Minute
)

// LoginInput is a credential submission against one account and
// application, both addressed by slug.
type LoginInput struct {
	AccountSlug     string `json:"accountSlug" form:"accountSlug"`
	ApplicationSlug string `json:"appSlug" form:"appSlug"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`

	Meta RequestMeta `json:"-" form:"-"`
}

// LoginOutcome is either an open session or a pending MFA challenge,
// never both.
type LoginOutcome struct {
	User    *domain.User
	Session *domain.Session

	MfaRequired bool
	MfaToken    string
	MaskedEmail string
}

// LoginService authenticates users with email and password, applying rate
// limits, lockout, and the application's MFA requirement.
type LoginService struct {
	directory *cache.Directory
	users     domain.UserRepository
	sessions  *SessionService
	mfa       *MfaService
	hasher    auth.PasswordHasher
	limiter   *RateLimiter
}

func NewLoginService(
	directory *cache.Directory,
	users domain.UserRepository,
	sessions *SessionService,
	mfa *MfaService,
	hasher auth.PasswordHasher,
	limiter *RateLimiter,
) *LoginService {
	return &LoginService{
		directory: directory,
		users:     users,
		sessions:  sessions,
		mfa:       mfa,
		hasher:    hasher,
		limiter:   limiter,
	}
}

// Login verifies the credentials. On success it either opens a session or,
// when the application requires MFA, issues an email challenge and returns
// its token. Credential failures are deliberately uniform: unknown email,
// wrong password, disabled and locked users all produce the same error.
func (s *LoginService) Login(ctx context.Context, in LoginInput) (*LoginOutcome, *RateLimitResult, error) {
	account, err := s.directory.AccountBySlug(ctx, in.AccountSlug)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil, serrors.NewNotFound(serrors.CodeAccountNotFound, "account not found")
		}
		return nil, nil, err
	}
	if !account.IsActive() {
		return nil, nil, serrors.NewForbidden("account is suspended")
	}

	app, err := s.directory.ApplicationBySlug(ctx, account.ID, in.ApplicationSlug)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil, serrors.NewNotFound(serrors.CodeAppNotFound, "application not found")
		}
		return nil, nil, err
	}
	if !app.Active {
		return nil, nil, serrors.NewNotFound(serrors.CodeAppNotFound, "application not found")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	limit, err := s.limiter.CheckAll(ctx,
		RateLimitCheck{Policy: LimitLogin, Key: LoginEmailKey(account.ID, email)},
		RateLimitCheck{Policy: LimitLogin, Key: LoginIPKey(in.Meta.IPAddress)},
	)
	if err != nil {
		return nil, nil, err
	}
	if !limit.Allowed {
		return nil, limit, serrors.NewRateLimitExceeded()
	}

	user, err := s.users.GetUserByEmail(ctx, account.ID, email)
	if err != nil {
		if err == domain.ErrNotFound {
			metrics.IncLoginFailure()
			return nil, limit, serrors.NewUnauthenticated("invalid email or password")
		}
		return nil, limit, err
	}

	now := time.Now()
	if user.Status != domain.UserStatusActive || user.IsLocked(now) {
		metrics.IncLoginFailure()
		return nil, limit, serrors.NewUnauthenticated("invalid email or password")
	}

	ok, err := s.hasher.Verify(user.PasswordHash, in.Password)
	if err != nil {
		return nil, limit, err
	}
	if !ok {
		if recErr := s.recordFailure(ctx, user, now); recErr != nil {
			return nil, limit, recErr
		}
		metrics.IncLoginFailure()
		return nil, limit, serrors.NewUnauthenticated("invalid email or password")
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, limit, err
	}
	metrics.IncLoginSuccess()

	if app.RequireMFA {
		challenge, err := s.mfa.Issue(ctx, user, app.ID)
		if err != nil {
			return nil, limit, err
		}
		return &LoginOutcome{
			User:        user,
			MfaRequired: true,
			MfaToken:    challenge.ID,
			MaskedEmail: MaskEmail(user.Email),
		}, limit, nil
	}

	session, err := s.sessions.Create(ctx, user.ID, account.ID, in.Meta)
	if err != nil {
		return nil, limit, err
	}
	return &LoginOutcome{User: user, Session: session}, limit, nil
}

func (s *LoginService) recordFailure(ctx context.Context, user *domain.User, now time.Time) error {
	attempts := user.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= lockoutThreshold {
		until := now.Add(lockoutDuration)
		lockedUntil = &until
		log.Warn().
			Str("userId", user.ID).
			Str("accountId", user.AccountID).
			Int("attempts", attempts).
			Time("lockedUntil", until).
			Msg("user locked out after repeated login failures")
	}
	return s.users.RecordLoginFailure(ctx, user.ID, attempts, lockedUntil)
}

// VerifyMfa completes a pending MFA login: on a correct code the challenge
// is consumed and a session opened for the challenge's user.
func (s *LoginService) VerifyMfa(ctx context.Context, challengeID, code string, meta RequestMeta) (*LoginOutcome, *RateLimitResult, error) {
	limit, err := s.limiter.Check(ctx, LimitMfaVerify, MfaVerifyKey(challengeID))
	if err != nil {
		return nil, nil, err
	}
	if !limit.Allowed {
		return nil, limit, serrors.NewRateLimitExceeded()
	}

	challenge, err := s.mfa.Verify(ctx, challengeID, code)
	if err != nil {
		return nil, limit, err
	}

	user, err := s.users.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, limit, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, limit, serrors.NewUnauthenticated("invalid email or password")
	}

	session, err := s.sessions.Create(ctx, user.ID, challenge.AccountID, meta)
	if err != nil {
		return nil, limit, err
	}
	return &LoginOutcome{User: user, Session: session}, limit, nil
}

// ResendMfa re-issues the challenge's code.
func (s *LoginService) ResendMfa(ctx context.Context, challengeID string) (*RateLimitResult, error) {
	return s.mfa.Resend(ctx, challengeID)
}
