package worker

import (
	"context"
	"errors"
	"fmt"
	"saas-billing/internal/client"
	"saas-billing/internal/metrics"
	"saas-billing/internal/queue"
	"saas-billing/internal/repository"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type NotificationWorkerConfig struct {
	Workers     int
	MaxAttempts int
	PollTimeout time.Duration
}

// NotificationWorker drains the notification queue and sends emails.
// Failed sends are retried until MaxAttempts, then dropped with an error log.
type NotificationWorker struct {
	queue    queue.NotificationQueue
	userRepo repository.UserRepository
	mailer   client.MailClient
	config   NotificationWorkerConfig
	logger   zerolog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewNotificationWorker(
	notificationQueue queue.NotificationQueue,
	userRepo repository.UserRepository,
	mailer client.MailClient,
	config NotificationWorkerConfig,
	logger zerolog.Logger,
) *NotificationWorker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 5 * time.Second
	}

	return &NotificationWorker{
		queue:    notificationQueue,
		userRepo: userRepo,
		mailer:   mailer,
		config:   config,
		logger:   logger.With().Str("component", "notification_worker").Logger(),
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)

	if recovered, err := w.queue.Recover(ctx); err != nil {
		w.logger.Error().Err(err).Msg("recover unacked notifications")
	} else if recovered > 0 {
		w.logger.Info().Int("count", recovered).Msg("re-queued unacked notifications")
	}

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}

	w.logger.Info().Int("workers", w.config.Workers).Msg("notification worker started")
}

func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("notification worker stopped")
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.queue.Dequeue(ctx, w.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("dequeue notification")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.handle(ctx, delivery)
	}
}

func (w *NotificationWorker) handle(ctx context.Context, delivery *queue.Delivery) {
	n := delivery.Notification
	log := w.logger.With().
		Str("notification_id", n.ID).
		Str("kind", string(n.Kind)).
		Str("user_id", n.UserID).
		Int("attempt", n.Attempts+1).
		Logger()

	err := w.deliver(ctx, delivery)
	switch {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
		log.Info().Msg("notification sent")
	case n.Attempts+1 >= w.config.MaxAttempts || errors.Is(err, errUndeliverable):
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "dropped").Inc()
		log.Error().Err(err).Msg("notification dropped")
	default:
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "retried").Inc()
		log.Warn().Err(err).Msg("notification failed, will retry")
		if retryErr := w.queue.Retry(ctx, delivery); retryErr != nil {
			log.Error().Err(retryErr).Msg("requeue notification")
		}
		return
	}

	if ackErr := w.queue.Ack(ctx, delivery); ackErr != nil {
		log.Error().Err(ackErr).Msg("ack notification")
	}
}

var errUndeliverable = errors.New("notification cannot be delivered")

func (w *NotificationWorker) deliver(ctx context.Context, delivery *queue.Delivery) error {
	n := delivery.Notification

	user, err := w.userRepo.GetByID(ctx, n.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: user %s not found", errUndeliverable, n.UserID)
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	msg := renderEmail(n, user)
	if msg == nil {
		return fmt.Errorf("%w: unknown kind %q", errUndeliverable, n.Kind)
	}

	if err := w.mailer.SendEmail(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
