/**
 * @description
 * Cron-driven sweeper that retires timed-out download grants. Expiry is
 * enforced lazily at consume time regardless; the sweeper only keeps the
 * issued-grant set small so the partial unique index stays cheap.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// GrantSweeper runs the periodic grant expiry job.
type GrantSweeper struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
}

// NewGrantSweeper creates a sweeper on the given cron schedule
// (e.g. "*/5 * * * *").
func NewGrantSweeper(service *Service, logger *slog.Logger, schedule string) *GrantSweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &GrantSweeper{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the expiry job and starts the cron scheduler.
func (s *GrantSweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runExpiry); err != nil {
		s.logger.Error("failed to schedule grant expiry job", "error", err)
		return
	}
	s.logger.Info("scheduled grant expiry job", "schedule", s.schedule)
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *GrantSweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *GrantSweeper) runExpiry() {
	ctx := context.Background()

	expired, err := s.service.ExpireStaleGrants(ctx)
	if err != nil {
		s.logger.Error("grant expiry job failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("grant expiry job finished", "expired", expired)
	}
}
