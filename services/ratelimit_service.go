package services

import (
	"context"
	"fmt"
	"time"

	"github.com/qodari/iam/domain"
	"github.com/qodari/iam/internal/metrics"
)

// RateLimit names a policy: at most Limit hits per sliding Window.
type RateLimit struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Named limits applied by the HTTP surface. Login and token limits are
// checked per client IP and per identifier so a distributed attack on one
// email is throttled even when it comes from many addresses.
var (
	LimitLogin     = RateLimit{Name: "login", Limit: 5, Window: 15 * time.Minute}
	LimitToken     = RateLimit{Name: "token", Limit: 20, Window: 5 * time.Minute}
	LimitMfaVerify = RateLimit{Name: "mfa_verify", Limit: 10, Window: 5 * time.Minute}
	LimitMfaResend = RateLimit{Name: "mfa_resend", Limit: 1, Window: 60 * time.Second}
)

// RateLimitResult reports the outcome of a check. Remaining and ResetAt are
// surfaced to clients via X-RateLimit-* response headers.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RateLimitCheck pairs a policy with the concrete key it is counted under.
type RateLimitCheck struct {
	Policy RateLimit
	Key    string
}

// RateLimiter counts hits against a persistent store so limits survive
// process restarts and apply across replicas.
type RateLimiter struct {
	store domain.RateLimitStore
}

func NewRateLimiter(store domain.RateLimitStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Check records one hit under key and reports whether the caller is still
// within the policy. The hit is counted even when the answer is no.
func (l *RateLimiter) Check(ctx context.Context, policy RateLimit, key string) (*RateLimitResult, error) {
	counter, err := l.store.Hit(ctx, key, policy.Window)
	if err != nil {
		return nil, err
	}
	res := &RateLimitResult{
		Allowed:   counter.Count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-counter.Count, 0),
		ResetAt:   counter.WindowStart.Add(policy.Window),
	}
	if !res.Allowed {
		metrics.IncRateLimitRejected()
	}
	return res, nil
}

// CheckAll runs every check and returns the tightest result. All counters
// are hit regardless of outcome, so a caller cannot probe one key without
// spending the others.
func (l *RateLimiter) CheckAll(ctx context.Context, checks ...RateLimitCheck) (*RateLimitResult, error) {
	var tightest *RateLimitResult
	for _, c := range checks {
		res, err := l.Check(ctx, c.Policy, c.Key)
		if err != nil {
			return nil, err
		}
		switch {
		case tightest == nil:
			tightest = res
		case !res.Allowed && tightest.Allowed:
			tightest = res
		case res.Allowed == tightest.Allowed && res.Remaining < tightest.Remaining:
			tightest = res
		}
	}
	return tightest, nil
}

// Key builders. Keys are namespaced by policy name so the same identifier
// can be counted independently under different policies.

func LoginEmailKey(accountID, email string) string {
	return fmt.Sprintf("login:email:%s:%s", accountID, email)
}

func LoginIPKey(ip string) string {
	return fmt.Sprintf("login:ip:%s", ip)
}

func TokenClientKey(clientID string) string {
	return fmt.Sprintf("token:client:%s", clientID)
}

func TokenIPKey(ip string) string {
	return fmt.Sprintf("token:ip:%s", ip)
}

func MfaVerifyKey(challengeID string) string {
	return fmt.Sprintf("mfa:verify:%s", challengeID)
}

func MfaResendKey(challengeID string) string {
	return fmt.Sprintf("mfa:resend:%s", challengeID)
}
