package service

import (
	"context"
	"errors"
	"fmt"
	"saas-billing/internal/apperror"
	"saas-billing/internal/client"
	"saas-billing/internal/metrics"
	"saas-billing/internal/model"
	"saas-billing/internal/queue"
	"saas-billing/internal/repository"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Outcomes reported back to Stripe. All of them acknowledge the event.
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusUnhandled = "unhandled"
)

// unsyncedEventMaxAge bounds how long an invoice waits for its checkout
// event before it is acknowledged without a local subscription.
const unsyncedEventMaxAge = 72 * time.Hour

type WebhookService interface {
	// HandleStripeWebhook verifies and applies one delivery. A returned error
	// means the event was not applied and Stripe should redeliver it, unless
	// it wraps apperror.ErrSignature or apperror.ErrValidation.
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error)
}

type webhookServiceImpl struct {
	db                  *gorm.DB
	stripeClient        client.StripeClient
	planRepo            repository.PlanRepository
	subscriptionRepo    repository.SubscriptionRepository
	paymentRepo         repository.PaymentRepository
	webhookEventRepo    repository.WebhookEventRepository
	pendingCheckoutRepo repository.PendingCheckoutRepository
	notificationQueue   queue.NotificationQueue
	logger              zerolog.Logger
	now                 func() time.Time
}

func NewWebhookService(
	db *gorm.DB,
	stripeClient client.StripeClient,
	planRepo repository.PlanRepository,
	subscriptionRepo repository.SubscriptionRepository,
	paymentRepo repository.PaymentRepository,
	webhookEventRepo repository.WebhookEventRepository,
	pendingCheckoutRepo repository.PendingCheckoutRepository,
	notificationQueue queue.NotificationQueue,
	logger zerolog.Logger,
) WebhookService {
	return &webhookServiceImpl{
		db:                  db,
		stripeClient:        stripeClient,
		planRepo:            planRepo,
		subscriptionRepo:    subscriptionRepo,
		paymentRepo:         paymentRepo,
		webhookEventRepo:    webhookEventRepo,
		pendingCheckoutRepo: pendingCheckoutRepo,
		notificationQueue:   notificationQueue,
		logger:              logger.With().Str("component", "webhook_service").Logger(),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

func (s *webhookServiceImpl) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := s.stripeClient.ParseWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		s.logger.Warn().Err(err).Msg("rejected webhook delivery")
		return "", err
	}

	log := s.logger.With().Str("event_id", event.EventID()).Str("event_type", event.EventType()).Logger()

	status, err := s.dispatch(ctx, event, log)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "error").Inc()
		log.Error().Err(err).Msg("webhook event failed")
		return "", err
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), status).Inc()
	log.Info().Str("status", status).Msg("webhook event handled")
	return status, nil
}

func (s *webhookServiceImpl) dispatch(ctx context.Context, event model.StripeEvent, log zerolog.Logger) (string, error) {
	if _, ok := event.(*model.UnhandledEvent); ok {
		return WebhookStatusUnhandled, nil
	}

	seen, err := s.webhookEventRepo.Exists(ctx, event.EventID())
	if err != nil {
		return "", fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		return WebhookStatusDuplicate, nil
	}

	switch e := event.(type) {
	case *model.CheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, e, log)
	case *model.InvoicePaid:
		return s.handleInvoicePaid(ctx, e, log)
	case *model.InvoiceFailed:
		return s.handleInvoiceFailed(ctx, e, log)
	case *model.SubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, e, log)
	}

	return WebhookStatusUnhandled, nil
}

// fetchSubscription re-reads the canonical subscription. ok is false when
// Stripe permanently refused, which callers treat as nothing to apply.
func (s *webhookServiceImpl) fetchSubscription(ctx context.Context, id string, log zerolog.Logger) (*model.ProviderSubscription, bool, error) {
	sub, err := s.stripeClient.GetSubscription(ctx, id)
	if errors.Is(err, apperror.ErrGatewayRejected) {
		log.Warn().Err(err).Str("provider_subscription_id", id).Msg("subscription lookup rejected")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (s *webhookServiceImpl) handleCheckoutCompleted(ctx context.Context, e *model.CheckoutCompleted, log zerolog.Logger) (string, error) {
	if e.SubscriptionID == "" {
		log.Warn().Str("session_id", e.SessionID).Msg("checkout session has no subscription")
		return WebhookStatusIgnored, nil
	}

	providerSub, ok, err := s.fetchSubscription(ctx, e.SubscriptionID, log)
	if err != nil {
		return "", err
	}
	if !ok {
		return WebhookStatusIgnored, nil
	}
	if providerSub.Terminated() {
		log.Info().Str("provider_status", providerSub.Status).Msg("subscription already terminated")
		return WebhookStatusIgnored, nil
	}

	// Session metadata wins, the subscription carries a copy.
	meta := e.Metadata
	fallback := model.CheckoutMetadataFromMap(providerSub.Metadata)
	if meta.UserID == "" {
		meta.UserID = fallback.UserID
	}
	if meta.PlanID == "" && meta.PlanCode == "" {
		meta.PlanID, meta.PlanCode = fallback.PlanID, fallback.PlanCode
	}
	if meta.UpgradeFromSubscriptionID == "" {
		meta.UpgradeFromSubscriptionID = fallback.UpgradeFromSubscriptionID
	}

	userID := e.ClientReferenceID
	if userID == "" {
		userID = meta.UserID
	}
	plan, err := s.resolvePlan(ctx, meta)
	if err != nil {
		return "", err
	}
	if userID == "" || plan == nil {
		log.Error().
			Str("provider_subscription_id", e.SubscriptionID).
			Str("user_id", userID).
			Str("plan_id", meta.PlanID).
			Str("plan_code", meta.PlanCode).
			Msg("cannot correlate checkout to a user and plan")
		return WebhookStatusIgnored, nil
	}

	customerID := e.CustomerID
	if customerID == "" {
		customerID = providerSub.CustomerID
	}

	upgradeFrom := meta.UpgradeFromSubscriptionID
	if upgradeFrom == e.SubscriptionID {
		upgradeFrom = ""
	}
	if upgradeFrom != "" {
		if err := s.stripeClient.CancelSubscription(ctx, upgradeFrom); err != nil {
			if !errors.Is(err, apperror.ErrGatewayRejected) {
				return "", fmt.Errorf("cancel replaced subscription: %w", err)
			}
			log.Warn().Err(err).Str("provider_subscription_id", upgradeFrom).Msg("stripe refused to cancel replaced subscription")
		}
	}

	now := s.now()
	var sub *model.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upgradeFrom != "" {
			if _, err := s.subscriptionRepo.Cancel(ctx, tx, model.ProviderStripe, upgradeFrom, now, &now); err != nil {
				return fmt.Errorf("cancel replaced subscription: %w", err)
			}
		}

		var err error
		sub, _, err = s.subscriptionRepo.Create(ctx, tx, &repository.CreateSubscriptionParams{
			UserID:                 userID,
			Plan:                   plan,
			Provider:               model.ProviderStripe,
			ProviderSubscriptionID: e.SubscriptionID,
			ProviderCustomerID:     customerID,
		}, now)
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		return s.webhookEventRepo.MarkProcessed(ctx, tx, e.ID, e.Type)
	})
	if err != nil {
		return "", err
	}

	if err := s.pendingCheckoutRepo.Delete(ctx, userID); err != nil {
		log.Warn().Err(err).Msg("clear pending checkout failed")
	}

	log.Info().Str("subscription_id", sub.ID).Str("user_id", userID).Msg("subscription recorded")
	return WebhookStatusProcessed, nil
}

func (s *webhookServiceImpl) handleInvoicePaid(ctx context.Context, e *model.InvoicePaid, log zerolog.Logger) (string, error) {
	if e.SubscriptionID == "" {
		return WebhookStatusIgnored, nil
	}

	providerSub, ok, err := s.fetchSubscription(ctx, e.SubscriptionID, log)
	if err != nil {
		return "", err
	}
	if !ok {
		return WebhookStatusIgnored, nil
	}

	now := s.now()
	var notification *model.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			sub *model.Subscription
			err error
		)
		if providerSub.CurrentPeriodEnd.IsZero() {
			sub, err = s.subscriptionRepo.GetByProviderID(ctx, tx, model.ProviderStripe, e.SubscriptionID)
		} else {
			sub, err = s.subscriptionRepo.UpdatePeriod(ctx, tx, model.ProviderStripe, e.SubscriptionID,
				providerSub.CurrentPeriodStart, providerSub.CurrentPeriodEnd, now)
		}
		if err != nil {
			return fmt.Errorf("update period: %w", err)
		}
		if sub == nil {
			return errSubscriptionNotSynced
		}

		changed, err := s.paymentRepo.Record(ctx, tx, &model.Payment{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			InvoiceID:      e.InvoiceID,
			Amount:         e.Amount,
			Currency:       e.Currency,
			Status:         model.PaymentStatusPaid,
		})
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		if !changed {
			changed, err = s.paymentRepo.Transition(ctx, tx, e.InvoiceID,
				[]string{model.PaymentStatusPending, model.PaymentStatusFailed}, model.PaymentStatusPaid)
			if err != nil {
				return fmt.Errorf("mark payment paid: %w", err)
			}
		}

		if err := s.webhookEventRepo.MarkProcessed(ctx, tx, e.ID, e.Type); err != nil {
			return err
		}

		if changed {
			switch e.BillingReason {
			case model.BillingReasonSubscriptionCreate:
				notification = s.newNotification(ctx, tx, model.NotificationWelcome, sub, e.InvoiceID, e.Amount, e.Currency)
			case model.BillingReasonSubscriptionCycle:
				notification = s.newNotification(ctx, tx, model.NotificationRenewal, sub, e.InvoiceID, e.Amount, e.Currency)
			}
		}
		return nil
	})
	if errors.Is(err, errSubscriptionNotSynced) {
		return s.unsyncedOutcome(ctx, providerSub, e.Created, log)
	}
	if err != nil {
		return "", err
	}

	s.enqueue(ctx, notification, log)
	return WebhookStatusProcessed, nil
}

// handleInvoiceFailed records the failure only. Stripe keeps retrying the
// charge and access runs until the paid period ends.
func (s *webhookServiceImpl) handleInvoiceFailed(ctx context.Context, e *model.InvoiceFailed, log zerolog.Logger) (string, error) {
	if e.SubscriptionID == "" {
		return WebhookStatusIgnored, nil
	}

	var notification *model.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.GetByProviderID(ctx, tx, model.ProviderStripe, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		if sub == nil {
			return errSubscriptionNotSynced
		}

		created, err := s.paymentRepo.Record(ctx, tx, &model.Payment{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			InvoiceID:      e.InvoiceID,
			Amount:         e.Amount,
			Currency:       e.Currency,
			Status:         model.PaymentStatusFailed,
		})
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		if err := s.webhookEventRepo.MarkProcessed(ctx, tx, e.ID, e.Type); err != nil {
			return err
		}

		if created {
			notification = s.newNotification(ctx, tx, model.NotificationPaymentFailed, sub, e.InvoiceID, e.Amount, e.Currency)
		}
		return nil
	})
	if errors.Is(err, errSubscriptionNotSynced) {
		providerSub, ok, err := s.fetchSubscription(ctx, e.SubscriptionID, log)
		if err != nil {
			return "", err
		}
		if !ok {
			return WebhookStatusIgnored, nil
		}
		return s.unsyncedOutcome(ctx, providerSub, e.Created, log)
	}
	if err != nil {
		return "", err
	}

	s.enqueue(ctx, notification, log)
	return WebhookStatusProcessed, nil
}

// unsyncedOutcome settles an invoice whose subscription has no local row.
// Only a live subscription that its checkout can still land for is retried.
func (s *webhookServiceImpl) unsyncedOutcome(ctx context.Context, providerSub *model.ProviderSubscription, created time.Time, log zerolog.Logger) (string, error) {
	log = log.With().Str("provider_subscription_id", providerSub.ID).Logger()

	if providerSub.Terminated() {
		log.Warn().Str("provider_status", providerSub.Status).Msg("invoice for terminated subscription with no local record")
		return WebhookStatusIgnored, nil
	}

	meta := model.CheckoutMetadataFromMap(providerSub.Metadata)
	plan, err := s.resolvePlan(ctx, meta)
	if err != nil {
		return "", err
	}
	if meta.UserID == "" || plan == nil {
		log.Error().
			Str("user_id", meta.UserID).
			Str("plan_id", meta.PlanID).
			Str("plan_code", meta.PlanCode).
			Msg("invoice for subscription that cannot be correlated")
		return WebhookStatusIgnored, nil
	}

	if !created.IsZero() && s.now().Sub(created) > unsyncedEventMaxAge {
		log.Error().Time("event_created", created).Msg("invoice outlived its checkout, giving up")
		return WebhookStatusIgnored, nil
	}

	return "", errSubscriptionNotSynced
}

func (s *webhookServiceImpl) handleSubscriptionDeleted(ctx context.Context, e *model.SubscriptionDeleted, log zerolog.Logger) (string, error) {
	canceledAt, endedAt := e.CanceledAt, e.EndedAt

	providerSub, ok, err := s.fetchSubscription(ctx, e.SubscriptionID, log)
	if err != nil {
		return "", err
	}
	if ok {
		if !providerSub.Terminated() {
			log.Warn().Str("provider_status", providerSub.Status).Msg("stale deletion event, subscription is live")
			return WebhookStatusIgnored, nil
		}
		if providerSub.CanceledAt != nil {
			canceledAt = providerSub.CanceledAt
		}
		if providerSub.EndedAt != nil {
			endedAt = providerSub.EndedAt
		}
	}

	now := s.now()
	periodEnd := now
	if endedAt != nil && endedAt.Before(now) {
		periodEnd = *endedAt
	}
	canceled := now
	if canceledAt != nil {
		canceled = *canceledAt
	}

	known := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.Cancel(ctx, tx, model.ProviderStripe, e.SubscriptionID, canceled, &periodEnd)
		if err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		if sub == nil {
			return nil
		}
		known = true
		return s.webhookEventRepo.MarkProcessed(ctx, tx, e.ID, e.Type)
	})
	if err != nil {
		return "", err
	}
	if !known {
		log.Warn().Str("provider_subscription_id", e.SubscriptionID).Msg("deleted subscription is unknown")
		return WebhookStatusIgnored, nil
	}

	return WebhookStatusProcessed, nil
}

// resolvePlan looks the plan up by id first, falling back to code. A
// retired plan still resolves by id so late checkouts are honored.
func (s *webhookServiceImpl) resolvePlan(ctx context.Context, meta model.CheckoutMetadata) (*model.Plan, error) {
	var (
		plan *model.Plan
		err  error
	)
	switch {
	case meta.PlanID != "":
		plan, err = s.planRepo.GetByID(ctx, s.db, meta.PlanID)
	case meta.PlanCode != "":
		plan, err = s.planRepo.GetActiveByCode(ctx, s.db, meta.PlanCode)
	default:
		return nil, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	return plan, nil
}

func (s *webhookServiceImpl) newNotification(ctx context.Context, tx *gorm.DB, kind model.NotificationKind, sub *model.Subscription, invoiceID string, amount int64, currency string) *model.Notification {
	n := &model.Notification{
		ID:             uuid.NewString(),
		Kind:           kind,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		InvoiceID:      invoiceID,
		Amount:         amount,
		Currency:       currency,
		PeriodEnd:      sub.CurrentPeriodEnd,
		CreatedAt:      s.now(),
	}
	if plan, err := s.planRepo.GetByID(ctx, tx, sub.PlanID); err == nil {
		n.PlanName = plan.Name
	}
	return n
}

// enqueue runs after commit. A lost notification never rolls back billing
// state, so failures are only logged.
func (s *webhookServiceImpl) enqueue(ctx context.Context, n *model.Notification, log zerolog.Logger) {
	if n == nil {
		return
	}
	if err := s.notificationQueue.Enqueue(ctx, n); err != nil {
		log.Error().Err(err).Str("kind", string(n.Kind)).Str("user_id", n.UserID).Msg("enqueue notification failed")
	}
}
