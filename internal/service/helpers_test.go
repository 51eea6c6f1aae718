package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"saas-billing/internal/apperror"
	"saas-billing/internal/client"
	"saas-billing/internal/lock"
	"saas-billing/internal/model"
	"saas-billing/internal/queue"
	"saas-billing/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_service_test"

// fakeStripe keeps just enough provider state to drive the services.
type fakeStripe struct {
	mu sync.Mutex

	customersCreated int
	sessions         []*client.CreateCheckoutSessionRequest
	expiredSessions  []string
	subscriptions    map[string]*model.ProviderSubscription
	canceled         []string
	renamed          []string
	pricesCreated    int
	deactivated      []string
	archived         []string

	getSubscriptionErr    error
	cancelSubscriptionErr error
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{subscriptions: map[string]*model.ProviderSubscription{}}
}

func (f *fakeStripe) putSubscription(sub *model.ProviderSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sub
	f.subscriptions[sub.ID] = &copied
}

func (f *fakeStripe) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStripe) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customersCreated++
	return "cus_" + userID, nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, req *client.CreateCheckoutSessionRequest) (*client.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, req)
	id := fmt.Sprintf("cs_test_%d", len(f.sessions))
	return &client.CheckoutSession{
		ID:        id,
		URL:       "https://checkout.stripe.test/" + id,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

func (f *fakeStripe) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredSessions = append(f.expiredSessions, sessionID)
	return nil
}

func (f *fakeStripe) GetSubscription(_ context.Context, id string) (*model.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getSubscriptionErr != nil {
		return nil, f.getSubscriptionErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription: %s", apperror.ErrGatewayRejected, id)
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeStripe) CancelSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelSubscriptionErr != nil {
		return f.cancelSubscriptionErr
	}
	f.canceled = append(f.canceled, id)
	if sub, ok := f.subscriptions[id]; ok {
		now := time.Now().UTC()
		sub.Status = "canceled"
		sub.CanceledAt = &now
		sub.EndedAt = &now
	}
	return nil
}

func (f *fakeStripe) CancelAtPeriodEnd(_ context.Context, id string) (*model.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription: %s", apperror.ErrGatewayRejected, id)
	}
	now := time.Now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	copied := *sub
	return &copied, nil
}

func (f *fakeStripe) CreateProductPrice(_ context.Context, plan *model.Plan) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pricesCreated++
	return "prod_" + plan.Code, "price_" + plan.Code, nil
}

func (f *fakeStripe) CreatePrice(_ context.Context, _ string, plan *model.Plan) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pricesCreated++
	return fmt.Sprintf("price_%s_%d", plan.Code, f.pricesCreated), nil
}

func (f *fakeStripe) RenameProduct(_ context.Context, productID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, productID)
	return nil
}

func (f *fakeStripe) DeactivatePrice(_ context.Context, priceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, priceID)
	return nil
}

func (f *fakeStripe) ArchivePlan(_ context.Context, plan *model.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, plan.ID)
	return nil
}

func (f *fakeStripe) ParseWebhook(payload []byte, signature string) (model.StripeEvent, error) {
	return client.ParseStripeWebhook(payload, signature, testWebhookSecret)
}

type testEnv struct {
	db       *gorm.DB
	stripe   *fakeStripe
	redis    *miniredis.Miniredis
	queue    queue.NotificationQueue
	pending  repository.PendingCheckoutRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	users    repository.UserRepository
	plans    repository.PlanRepository

	billing  BillingService
	webhooks WebhookService
	catalog  PlanService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	db, err := client.InitDBClient(client.DriverSqlite, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		db:       db,
		stripe:   newFakeStripe(),
		redis:    mr,
		queue:    queue.NewMemoryNotificationQueue(32),
		pending:  repository.NewPendingCheckoutRepository(rdb),
		subs:     repository.NewSubscriptionRepository(db),
		payments: repository.NewPaymentRepository(db),
		users:    repository.NewUserRepository(db),
		plans:    repository.NewPlanRepository(db),
	}

	env.billing = NewBillingService(db, env.stripe, lock.NewMemoryLocker(), time.Hour,
		env.plans, env.users, env.subs, env.payments, env.pending, zerolog.Nop())
	env.webhooks = NewWebhookService(db, env.stripe, env.plans, env.subs, env.payments,
		repository.NewWebhookEventRepository(db), env.pending, env.queue, zerolog.Nop())
	env.catalog = NewPlanService(db, env.stripe, env.plans, zerolog.Nop())

	return env
}

func (e *testEnv) seedUser(t *testing.T) *model.User {
	t.Helper()
	id := uuid.NewString()
	user := &model.User{ID: id, Email: id + "@example.com", Username: "user-" + id[:8]}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) seedPlan(t *testing.T, code string, priceCents int64) *model.Plan {
	t.Helper()
	plan := &model.Plan{
		Name:            code,
		Code:            code,
		PriceCents:      priceCents,
		Currency:        "usd",
		BillingPeriod:   model.BillingPeriodMonthly,
		StripeProductID: "prod_" + code,
		StripePriceID:   "price_" + code,
	}
	require.NoError(t, e.plans.Create(context.Background(), plan))
	return plan
}

// deliver signs and posts an event the way Stripe would.
func (e *testEnv) deliver(t *testing.T, id, eventType string, object map[string]any) (string, error) {
	t.Helper()
	return e.deliverCreated(t, id, eventType, time.Now(), object)
}

// deliverCreated posts an event that Stripe created at created.
func (e *testEnv) deliverCreated(t *testing.T, id, eventType string, created time.Time, object map[string]any) (string, error) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-03-31.basil",
		"created":     created.Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signature := client.SignStripePayload(payload, testWebhookSecret, time.Now())
	return e.webhooks.HandleStripeWebhook(context.Background(), payload, signature)
}

// liveSubscription registers an active provider subscription whose current
// period is [start, end).
func (e *testEnv) liveSubscription(id, customerID string, start, end time.Time, metadata map[string]string) {
	e.stripe.putSubscription(&model.ProviderSubscription{
		ID:                 id,
		CustomerID:         customerID,
		Status:             "active",
		CurrentPeriodStart: start.UTC(),
		CurrentPeriodEnd:   end.UTC(),
		Metadata:           metadata,
	})
}

func checkoutObject(sessionID, subscriptionID, userID string, plan *model.Plan, upgradeFrom string) map[string]any {
	metadata := model.CheckoutMetadata{
		UserID:                    userID,
		PlanID:                    plan.ID,
		PlanCode:                  plan.Code,
		UpgradeFromSubscriptionID: upgradeFrom,
	}.Map()
	return map[string]any{
		"id":                  sessionID,
		"object":              "checkout.session",
		"subscription":        subscriptionID,
		"customer":            "cus_" + userID,
		"client_reference_id": userID,
		"metadata":            metadata,
	}
}

func invoiceObject(invoiceID, subscriptionID, reason string, amount int64) map[string]any {
	return map[string]any{
		"id":             invoiceID,
		"object":         "invoice",
		"subscription":   subscriptionID,
		"billing_reason": reason,
		"amount_paid":    amount,
		"amount_due":     amount,
		"currency":       "usd",
	}
}

// failingQueue accepts nothing, as when Redis is down.
type failingQueue struct {
	queue.NotificationQueue
}

func (failingQueue) Enqueue(context.Context, *model.Notification) error {
	return errors.New("notification queue unavailable")
}

// drain returns every notification currently queued.
func (e *testEnv) drain(t *testing.T) []*model.Notification {
	t.Helper()
	var out []*model.Notification
	for {
		d, err := e.queue.Dequeue(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		if d == nil {
			return out
		}
		out = append(out, d.Notification)
	}
}

// activeSubscription records a paid-up subscription locally and at the provider.
func (e *testEnv) activeSubscription(t *testing.T, user *model.User, plan *model.Plan, providerID string) *model.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub, created, err := e.subs.Create(context.Background(), e.db, &repository.CreateSubscriptionParams{
		UserID:                 user.ID,
		Plan:                   plan,
		Provider:               model.ProviderStripe,
		ProviderSubscriptionID: providerID,
		ProviderCustomerID:     "cus_" + user.ID,
	}, now)
	require.NoError(t, err)
	require.True(t, created)
	e.liveSubscription(providerID, "cus_"+user.ID, now, now.Add(30*24*time.Hour), nil)
	return sub
}
