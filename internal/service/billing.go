package service

import (
	"context"
	"errors"
	"fmt"
	"saas-billing/internal/client"
	"saas-billing/internal/lock"
	"saas-billing/internal/metrics"
	"saas-billing/internal/model"
	"saas-billing/internal/repository"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// checkoutLockTTL bounds how long a crashed instance can block a user's
// checkout. It comfortably covers two Stripe calls with retries.
const checkoutLockTTL = 30 * time.Second

const (
	checkoutIntentSubscribe = "subscribe"
	checkoutIntentUpgrade   = "upgrade"
)

type BillingService interface {
	// Subscribe returns a checkout URL for a user without an access-granting
	// subscription.
	Subscribe(ctx context.Context, userID, planCode string) (string, error)
	// Upgrade returns a checkout URL that replaces the user's current
	// subscription with planCode once paid.
	Upgrade(ctx context.Context, userID, planCode string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, userID string) (*model.Subscription, error)
	GetMySubscription(ctx context.Context, userID string) (*model.Subscription, error)
	ListMyPayments(ctx context.Context, userID string) ([]*model.Payment, error)
}

type billingServiceImpl struct {
	db                  *gorm.DB
	stripeClient        client.StripeClient
	locker              lock.Locker
	checkoutExpiry      time.Duration
	planRepo            repository.PlanRepository
	userRepo            repository.UserRepository
	subscriptionRepo    repository.SubscriptionRepository
	paymentRepo         repository.PaymentRepository
	pendingCheckoutRepo repository.PendingCheckoutRepository
	logger              zerolog.Logger
	now                 func() time.Time
}

func NewBillingService(
	db *gorm.DB,
	stripeClient client.StripeClient,
	locker lock.Locker,
	checkoutExpiry time.Duration,
	planRepo repository.PlanRepository,
	userRepo repository.UserRepository,
	subscriptionRepo repository.SubscriptionRepository,
	paymentRepo repository.PaymentRepository,
	pendingCheckoutRepo repository.PendingCheckoutRepository,
	logger zerolog.Logger,
) BillingService {
	return &billingServiceImpl{
		db:                  db,
		stripeClient:        stripeClient,
		locker:              locker,
		checkoutExpiry:      checkoutExpiry,
		planRepo:            planRepo,
		userRepo:            userRepo,
		subscriptionRepo:    subscriptionRepo,
		paymentRepo:         paymentRepo,
		pendingCheckoutRepo: pendingCheckoutRepo,
		logger:              logger.With().Str("component", "billing_service").Logger(),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

func (s *billingServiceImpl) Subscribe(ctx context.Context, userID, planCode string) (string, error) {
	access, err := s.subscriptionRepo.GetAccessSubscription(ctx, s.db, userID, s.now())
	if err != nil {
		return "", fmt.Errorf("get access subscription: %w", err)
	}
	if access != nil {
		return "", ErrAlreadySubscribed
	}

	plan, err := s.purchasablePlan(ctx, planCode)
	if err != nil {
		return "", err
	}

	return s.startCheckout(ctx, userID, plan, "")
}

func (s *billingServiceImpl) Upgrade(ctx context.Context, userID, planCode string) (string, error) {
	access, err := s.subscriptionRepo.GetAccessSubscription(ctx, s.db, userID, s.now())
	if err != nil {
		return "", fmt.Errorf("get access subscription: %w", err)
	}
	if access == nil {
		return "", ErrNoActiveSubscription
	}

	plan, err := s.purchasablePlan(ctx, planCode)
	if err != nil {
		return "", err
	}
	if plan.ID == access.PlanID {
		return "", ErrAlreadyOnPlan
	}

	return s.startCheckout(ctx, userID, plan, access.ProviderSubscriptionIDValue())
}

// startCheckout hands out at most one open checkout session per user. The
// per-user lock makes the access check, the reuse check and the session
// creation a single step across instances.
func (s *billingServiceImpl) startCheckout(ctx context.Context, userID string, plan *model.Plan, upgradeFrom string) (string, error) {
	intent := checkoutIntentSubscribe
	if upgradeFrom != "" {
		intent = checkoutIntentUpgrade
	}
	log := s.logger.With().Str("user_id", userID).Str("plan_id", plan.ID).Str("intent", intent).Logger()

	release, err := s.locker.Acquire(ctx, "billing:user:"+userID, checkoutLockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire checkout lock: %w", err)
	}
	defer release()

	now := s.now()
	access, err := s.subscriptionRepo.GetAccessSubscription(ctx, s.db, userID, now)
	if err != nil {
		return "", fmt.Errorf("get access subscription: %w", err)
	}
	switch {
	case upgradeFrom == "" && access != nil:
		return "", ErrAlreadySubscribed
	case upgradeFrom != "" && (access == nil || access.ProviderSubscriptionIDValue() != upgradeFrom):
		return "", ErrSubscriptionChanged
	}

	pending, err := s.pendingCheckoutRepo.Get(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("pending checkout lookup failed")
	}
	if pending != nil {
		if pending.PlanID == plan.ID && pending.UpgradeFrom == upgradeFrom {
			metrics.CheckoutSessionsTotal.WithLabelValues(intent, "reused").Inc()
			return pending.URL, nil
		}
		// A different purchase supersedes the open session. It must not be
		// payable anymore or the user could end up with both.
		if err := s.stripeClient.ExpireCheckoutSession(ctx, pending.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", pending.SessionID).Msg("expire superseded checkout session failed")
		}
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	metadata := model.CheckoutMetadata{
		UserID:                    userID,
		PlanID:                    plan.ID,
		PlanCode:                  plan.Code,
		UpgradeFromSubscriptionID: upgradeFrom,
	}
	session, err := s.stripeClient.CreateCheckoutSession(ctx, &client.CreateCheckoutSessionRequest{
		CustomerID:        customerID,
		PriceID:           plan.StripePriceID,
		ClientReferenceID: userID,
		Metadata:          metadata.Map(),
		ExpiresAt:         now.Add(s.checkoutExpiry),
	})
	if err != nil {
		return "", err
	}

	err = s.pendingCheckoutRepo.Save(ctx, userID, &repository.PendingCheckout{
		SessionID:   session.ID,
		URL:         session.URL,
		PlanID:      plan.ID,
		UpgradeFrom: upgradeFrom,
		ExpiresAt:   session.ExpiresAt,
	})
	if err != nil {
		log.Warn().Err(err).Msg("save pending checkout failed")
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(intent, "created").Inc()
	log.Info().Str("session_id", session.ID).Msg("checkout session created")

	return session.URL, nil
}

// ensureCustomer returns the user's Stripe customer, creating it on first
// purchase. Stripe deduplicates creation by idempotency key and the
// conditional update keeps the first stored id.
func (s *billingServiceImpl) ensureCustomer(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user.ProviderCustomerID != nil && *user.ProviderCustomerID != "" {
		return *user.ProviderCustomerID, nil
	}

	customerID, err := s.stripeClient.CreateCustomer(ctx, user.ID, user.Email)
	if err != nil {
		return "", err
	}

	stored, err := s.userRepo.SetProviderCustomerID(ctx, user.ID, customerID)
	if err != nil {
		return "", fmt.Errorf("store customer id: %w", err)
	}
	if stored {
		return customerID, nil
	}

	user, err = s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user.ProviderCustomerID == nil || *user.ProviderCustomerID == "" {
		return customerID, nil
	}
	return *user.ProviderCustomerID, nil
}

func (s *billingServiceImpl) CancelAtPeriodEnd(ctx context.Context, userID string) (*model.Subscription, error) {
	access, err := s.subscriptionRepo.GetAccessSubscription(ctx, s.db, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("get access subscription: %w", err)
	}
	if access == nil {
		return nil, ErrNoActiveSubscription
	}
	if access.CancelAtPeriodEnd {
		return nil, ErrAlreadyScheduled
	}

	providerID := access.ProviderSubscriptionIDValue()
	providerSub, err := s.stripeClient.CancelAtPeriodEnd(ctx, providerID)
	if err != nil {
		return nil, err
	}

	canceledAt := s.now()
	if providerSub.CanceledAt != nil {
		canceledAt = *providerSub.CanceledAt
	}

	sub, err := s.subscriptionRepo.Cancel(ctx, s.db, access.Provider, providerID, canceledAt, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}

	s.logger.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Msg("subscription scheduled for cancellation")
	return sub, nil
}

func (s *billingServiceImpl) GetMySubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subscriptionRepo.GetAccessSubscription(ctx, s.db, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("get access subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}
	return sub, nil
}

func (s *billingServiceImpl) ListMyPayments(ctx context.Context, userID string) ([]*model.Payment, error) {
	payments, err := s.paymentRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

func (s *billingServiceImpl) purchasablePlan(ctx context.Context, code string) (*model.Plan, error) {
	plan, err := s.planRepo.GetActiveByCode(ctx, s.db, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan.StripePriceID == "" {
		return nil, ErrPlanNotPurchasable
	}
	return plan, nil
}
