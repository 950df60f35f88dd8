package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
)

type limiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, l.err
}

func TestAuthorizeDownload_RateLimited(t *testing.T) {
	repo := &ledgerRepoStub{
		grant: &domain.DownloadGrant{ID: uuid.New(), Status: domain.GrantStatusIssued},
	}
	svc := newTestService(repo, &publisherStub{})
	svc.SetRateLimiter(&limiterStub{count: 121, retryAfter: 42}, RateLimitPolicy{DownloadPerWindow: 120})

	_, err := svc.AuthorizeDownload(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}
	if rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", rateErr.RetryAfterSeconds)
	}
}

func TestEnforceLimit_LimiterFailureAllowsRequest(t *testing.T) {
	svc := newTestService(&ledgerRepoStub{}, &publisherStub{})
	svc.SetRateLimiter(&limiterStub{err: errors.New("redis down")}, RateLimitPolicy{DownloadPerWindow: 10})

	if err := svc.enforceLimit(context.Background(), "download_authorize", 10, uuid.New()); err != nil {
		t.Fatalf("expected limiter failure to be tolerated, got %v", err)
	}
}

func TestEnforceLimit_NoLimiterConfigured(t *testing.T) {
	svc := newTestService(&ledgerRepoStub{}, &publisherStub{})

	if err := svc.enforceLimit(context.Background(), "feedback", 30, uuid.New()); err != nil {
		t.Fatalf("expected nil without a limiter, got %v", err)
	}
}
