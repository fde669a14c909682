package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/internal/auth"
	"github.com/qodari/iam/internal/metrics"
	"github.com/qodari/iam/internal/random"
)

// MfaCodeTTL is how long an emailed code stays redeemable.
const MfaCodeTTL = 3 * time.Minute

// Mailer delivers one-time codes. The production implementation talks to
// a mail provider; tests and local development use LogMailer.
type Mailer interface {
	SendMfaCode(ctx context.Context, toEmail, code string) error
}

// LogMailer writes the code to the log instead of sending mail.
type LogMailer struct{}

func (LogMailer) SendMfaCode(_ context.Context, toEmail, code string) error {
	log.Info().Str("email", toEmail).Str("code", code).Msg("MFA code (log mailer)")
	return nil
}

// MfaService issues and verifies email second-factor challenges.
type MfaService struct {
	challenges domain.MfaRepository
	users      domain.UserRepository
	mailer     Mailer
	limiter    *RateLimiter
}

func NewMfaService(challenges domain.MfaRepository, users domain.UserRepository, mailer Mailer, limiter *RateLimiter) *MfaService {
	return &MfaService{challenges: challenges, users: users, mailer: mailer, limiter: limiter}
}

// Issue creates a challenge for the user, emails the code, and returns the
// challenge. The caller hands the challenge ID to the client as an opaque
// MFA token; the code itself never leaves the mail path.
func (s *MfaService) Issue(ctx context.Context, user *domain.User, applicationID string) (*domain.MfaChallenge, error) {
	code, err := random.NumericCode(6)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	challenge := &domain.MfaChallenge{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		AccountID:     user.AccountID,
		ApplicationID: applicationID,
		CodeHash:      auth.HashSecret(code),
		ExpiresAt:     now.Add(MfaCodeTTL),
		CreatedAt:     now,
	}
	if err := s.challenges.StoreChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	if err := s.mailer.SendMfaCode(ctx, user.Email, code); err != nil {
		return nil, err
	}

	metrics.IncMfaChallengeIssued()
	return challenge, nil
}

// Verify checks a submitted code against the challenge. Every submission
// spends an attempt, correct or not; past the cap the challenge is dead
// even for the right code. A successful verification consumes the
// challenge so the code cannot be replayed.
func (s *MfaService) Verify(ctx context.Context, challengeID, code string) (*domain.MfaChallenge, error) {
	challenge, err := s.challenges.GetChallengeByID(ctx, challengeID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewNotFound(serrors.CodeChallengeNotFound, "challenge not found")
		}
		return nil, err
	}

	if challenge.Expired(time.Now()) {
		metrics.IncMfaVerifyFailure()
		return nil, serrors.NewUnauthenticated("challenge expired")
	}
	if challenge.Exhausted() {
		metrics.IncMfaVerifyFailure()
		return nil, serrors.NewUnauthenticated("too many attempts")
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if attempts > domain.MfaMaxAttempts {
		metrics.IncMfaVerifyFailure()
		return nil, serrors.NewUnauthenticated("too many attempts")
	}

	if !auth.SecretEqual(challenge.CodeHash, code) {
		metrics.IncMfaVerifyFailure()
		return nil, serrors.NewUnauthenticated("invalid code")
	}

	if err := s.challenges.DeleteChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Resend replaces the challenge's code with a fresh one and emails it. A
// resend resets the attempt counter and restarts the expiry window, but is
// limited to one per minute per challenge.
func (s *MfaService) Resend(ctx context.Context, challengeID string) (*RateLimitResult, error) {
	challenge, err := s.challenges.GetChallengeByID(ctx, challengeID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewNotFound(serrors.CodeChallengeNotFound, "challenge not found")
		}
		return nil, err
	}

	res, err := s.limiter.Check(ctx, LimitMfaResend, MfaResendKey(challengeID))
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		return res, serrors.NewRateLimitExceeded()
	}

	user, err := s.users.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return res, err
	}

	code, err := random.NumericCode(6)
	if err != nil {
		return res, err
	}
	if err := s.challenges.ReplaceChallengeCode(ctx, challengeID, auth.HashSecret(code), time.Now().Add(MfaCodeTTL)); err != nil {
		return res, err
	}
	if err := s.mailer.SendMfaCode(ctx, user.Email, code); err != nil {
		return res, err
	}

	metrics.IncMfaChallengeIssued()
	return res, nil
}

// MaskEmail hides the local part of an address for display in MFA prompts,
// e.g. "jane@example.com" becomes "j***e@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, rest := email[:at], email[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + rest
	}
	return local[:1] + "***" + local[len(local)-1:] + rest
}
