package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/domain"
)

// CleanupService periodically deletes rows past their retention: expired
// authorization codes, refresh tokens, sessions, MFA challenges, and
// rate-limit counters whose window has long closed. Nothing in the
// request path depends on this sweeper; expiry is always enforced at read
// time and the sweeper only reclaims storage.
type CleanupService struct {
	scheduler gocron.Scheduler
	interval  time.Duration
	enabled   bool

	codes    domain.AuthCodeRepository
	tokens   domain.RefreshTokenRepository
	sessions domain.SessionRepository
	mfa      domain.MfaRepository
	counters domain.RateLimitStore
}

func NewCleanupService(
	enabled bool,
	interval time.Duration,
	codes domain.AuthCodeRepository,
	tokens domain.RefreshTokenRepository,
	sessions domain.SessionRepository,
	mfa domain.MfaRepository,
	counters domain.RateLimitStore,
) (*CleanupService, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &CleanupService{
		scheduler: scheduler,
		interval:  interval,
		enabled:   enabled,
		codes:     codes,
		tokens:    tokens,
		sessions:  sessions,
		mfa:       mfa,
		counters:  counters,
	}, nil
}

// Start registers the sweep job and starts the scheduler. It must be
// called explicitly; constructing the service schedules nothing.
func (s *CleanupService) Start() error {
	if !s.enabled {
		log.Info().Msg("cleanup disabled, expired rows will accumulate until enabled")
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.Sweep),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	log.Info().Dur("interval", s.interval).Msg("cleanup scheduler started")
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *CleanupService) Stop() error {
	return s.scheduler.Shutdown()
}

// Sweep runs one pass over every expirable collection.
func (s *CleanupService) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now()

	codes, err := s.codes.DeleteExpiredAuthCodes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup: auth codes")
	}
	tokens, err := s.tokens.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("cleanup: refresh tokens")
	}
	sessions, err := s.sessions.DeleteExpiredSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup: sessions")
	}
	challenges, err := s.mfa.DeleteExpiredChallenges(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup: mfa challenges")
	}
	// Counters are stale once their window is far in the past; an hour of
	// slack covers every configured window.
	counters, err := s.counters.DeleteStaleCounters(ctx, now.Add(-time.Hour))
	if err != nil {
		log.Error().Err(err).Msg("cleanup: rate limit counters")
	}

	log.Debug().
		Int64("authCodes", codes).
		Int64("refreshTokens", tokens).
		Int64("sessions", sessions).
		Int64("mfaChallenges", challenges).
		Int64("rateLimitCounters", counters).
		Msg("cleanup sweep finished")
}
