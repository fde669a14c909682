package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal          prometheus.Counter
	LoginFailureTotal          prometheus.Counter
	TokensIssuedTotal          *prometheus.CounterVec
	RateLimitRejectedTotal     prometheus.Counter
	RefreshReuseRevokedTotal   prometheus.Counter
	MfaChallengesIssuedTotal   prometheus.Counter
	MfaVerifyFailuresTotal     prometheus.Counter
	ActiveSessionsCreatedTotal prometheus.Counter
)

// InitCustomMetrics initializes and registers the platform metrics. It
// should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_logins_failure_total",
		Help: "Total number of failed logins.",
	})
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_tokens_issued_total",
		Help: "Total number of access tokens issued, by grant type.",
	}, []string{"grant_type"})
	RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_rate_limit_rejected_total",
		Help: "Total number of requests rejected by the rate limiter.",
	})
	RefreshReuseRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_refresh_reuse_revocations_total",
		Help: "Total number of refresh token families revoked after reuse detection.",
	})
	MfaChallengesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_mfa_challenges_issued_total",
		Help: "Total number of email MFA challenges issued.",
	})
	MfaVerifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_mfa_verify_failures_total",
		Help: "Total number of failed MFA verification attempts.",
	})
	ActiveSessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_sessions_created_total",
		Help: "Total number of user sessions created.",
	})

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		TokensIssuedTotal,
		RateLimitRejectedTotal,
		RefreshReuseRevokedTotal,
		MfaChallengesIssuedTotal,
		MfaVerifyFailuresTotal,
		ActiveSessionsCreatedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}

// Increment helpers tolerate an uninitialized registry so library users
// and tests can exercise services without metrics wired.

func IncLoginSuccess()        { inc(LoginSuccessTotal) }
func IncLoginFailure()        { inc(LoginFailureTotal) }
func IncRateLimitRejected()   { inc(RateLimitRejectedTotal) }
func IncRefreshReuseRevoked() { inc(RefreshReuseRevokedTotal) }
func IncMfaChallengeIssued()  { inc(MfaChallengesIssuedTotal) }
func IncMfaVerifyFailure()    { inc(MfaVerifyFailuresTotal) }
func IncSessionCreated()      { inc(ActiveSessionsCreatedTotal) }

func IncTokensIssued(grantType string) {
	if TokensIssuedTotal != nil {
		TokensIssuedTotal.WithLabelValues(grantType).Inc()
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
