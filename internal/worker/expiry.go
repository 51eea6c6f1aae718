package worker

import (
	"context"
	"fmt"
	"saas-billing/internal/metrics"
	"saas-billing/internal/repository"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ExpirySweeper moves subscriptions whose period has ended to EXPIRED on a
// cron schedule. Each run is one idempotent UPDATE.
type ExpirySweeper struct {
	subscriptionRepo repository.SubscriptionRepository
	cron             *cron.Cron
	schedule         string
	logger           zerolog.Logger
	now              func() time.Time
}

func NewExpirySweeper(subscriptionRepo repository.SubscriptionRepository, schedule string, logger zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		subscriptionRepo: subscriptionRepo,
		cron:             cron.New(),
		schedule:         schedule,
		logger:           logger.With().Str("component", "expiry_sweeper").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one sweep immediately, then schedules the rest.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule expiry sweeper %q: %w", s.schedule, err)
	}

	_, _ = s.RunOnce(ctx)
	s.cron.Start()

	s.logger.Info().Str("schedule", s.schedule).Msg("expiry sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("expiry sweeper stopped")
}

func (s *ExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	started := time.Now()

	expired, err := s.subscriptionRepo.ExpireLapsed(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("expire lapsed subscriptions")
		return 0, err
	}

	metrics.SubscriptionsExpiredTotal.Add(float64(expired))
	s.logger.Info().
		Int64("expired", expired).
		Dur("took", time.Since(started)).
		Msg("expiry sweep finished")

	return expired, nil
}
