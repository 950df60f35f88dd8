/**
 * @description
 * Rate limit enforcement for the abuse-prone ledger surfaces. The limiter is
 * optional: when none is configured every check passes, which keeps unit
 * tests and local development free of a Redis dependency.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// ErrRateLimited is the sentinel matched by handlers to produce a 429.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitedError carries the retry hint alongside the sentinel.
type RateLimitedError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %ds", e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RateLimiter is implemented by RedisRateLimiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitPolicy holds per-account request budgets over a rolling window.
type RateLimitPolicy struct {
	FeedbackPerWindow int
	DownloadPerWindow int
	Window            time.Duration
}

// SetRateLimiter attaches a distributed rate limiter to the service.
func (s *Service) SetRateLimiter(limiter RateLimiter, policy RateLimitPolicy) {
	if policy.Window <= 0 {
		policy.Window = time.Hour
	}
	s.rateLimiter = limiter
	s.ratePolicy = policy
}

// enforceLimit consumes one token for the scope. Limiter failures are logged
// and treated as allowed: losing Redis must not take the ledger down.
func (s *Service) enforceLimit(ctx context.Context, scope string, limit int, accountID uuid.UUID) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}

	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, accountID.String(), limit, s.ratePolicy.Window)
	if err != nil {
		log.Printf("WARN: rate limiter unavailable for scope %s: %v", scope, err)
		return nil
	}
	if count > limit {
		return &RateLimitedError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}
