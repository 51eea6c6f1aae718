package service

import (
	"context"
	"sync"
	"testing"

	"saas-billing/internal/apperror"
	"saas-billing/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingService_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	plan := env.seedPlan(t, "pro", 1999)

	url, err := env.billing.Subscribe(ctx, user.ID, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", url)

	require.Len(t, env.stripe.sessions, 1)
	req := env.stripe.sessions[0]
	assert.Equal(t, "cus_"+user.ID, req.CustomerID)
	assert.Equal(t, plan.StripePriceID, req.PriceID)
	assert.Equal(t, user.ID, req.ClientReferenceID)
	assert.Equal(t, map[string]string{
		model.MetadataUserID:   user.ID,
		model.MetadataPlanID:   plan.ID,
		model.MetadataPlanCode: "pro",
	}, req.Metadata)
	assert.False(t, req.ExpiresAt.IsZero())

	stored, err := env.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderCustomerID)
	assert.Equal(t, "cus_"+user.ID, *stored.ProviderCustomerID)

	pending, err := env.pending.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "cs_test_1", pending.SessionID)
	assert.Equal(t, plan.ID, pending.PlanID)
}

func TestBillingService_SubscribeReusesPendingCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	env.seedPlan(t, "pro", 1999)

	first, err := env.billing.Subscribe(ctx, user.ID, "pro")
	require.NoError(t, err)
	second, err := env.billing.Subscribe(ctx, user.ID, "pro")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, env.stripe.sessionCount())
	assert.Equal(t, 1, env.stripe.customersCreated)
}

func TestBillingService_SubscribeOtherPlanExpiresPendingCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	env.seedPlan(t, "basic", 999)
	pro := env.seedPlan(t, "pro", 1999)

	_, err := env.billing.Subscribe(ctx, user.ID, "basic")
	require.NoError(t, err)
	url, err := env.billing.Subscribe(ctx, user.ID, "pro")
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.stripe.test/cs_test_2", url)
	assert.Equal(t, []string{"cs_test_1"}, env.stripe.expiredSessions)

	pending, err := env.pending.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, pro.ID, pending.PlanID)
}

func TestBillingService_SubscribeRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	pro := env.seedPlan(t, "pro", 1999)

	_, err := env.billing.Subscribe(ctx, user.ID, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	unpriced := &model.Plan{Name: "Draft", Code: "draft", Currency: "usd", BillingPeriod: model.BillingPeriodMonthly}
	require.NoError(t, env.plans.Create(ctx, unpriced))
	_, err = env.billing.Subscribe(ctx, user.ID, "draft")
	assert.ErrorIs(t, err, ErrPlanNotPurchasable)

	_, err = env.billing.Subscribe(ctx, "no-such-user", "pro")
	assert.ErrorIs(t, err, ErrUserNotFound)

	env.activeSubscription(t, user, pro, "sub_1")
	_, err = env.billing.Subscribe(ctx, user.ID, "pro")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.ErrorIs(t, err, apperror.ErrStateConflict)
	assert.Equal(t, 0, env.stripe.sessionCount())
}

func TestBillingService_ConcurrentSubscribeCreatesOneSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t)
	env.seedPlan(t, "pro", 1999)

	const callers = 8
	urls := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = env.billing.Subscribe(context.Background(), user.ID, "pro")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, urls[0], urls[i])
	}
	assert.Equal(t, 1, env.stripe.sessionCount())
	assert.Equal(t, 1, env.stripe.customersCreated)
}

func TestBillingService_Upgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	basic := env.seedPlan(t, "basic", 999)
	pro := env.seedPlan(t, "pro", 1999)

	_, err := env.billing.Upgrade(ctx, user.ID, "pro")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	env.activeSubscription(t, user, basic, "sub_basic")

	_, err = env.billing.Upgrade(ctx, user.ID, "basic")
	assert.ErrorIs(t, err, ErrAlreadyOnPlan)

	_, err = env.billing.Upgrade(ctx, user.ID, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	url, err := env.billing.Upgrade(ctx, user.ID, "pro")
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	require.Len(t, env.stripe.sessions, 1)
	assert.Equal(t, "sub_basic", env.stripe.sessions[0].Metadata[model.MetadataUpgradeFrom])
	assert.Equal(t, pro.ID, env.stripe.sessions[0].Metadata[model.MetadataPlanID])
}

func TestBillingService_CancelAtPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)
	plan := env.seedPlan(t, "pro", 1999)

	_, err := env.billing.CancelAtPeriodEnd(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	active := env.activeSubscription(t, user, plan, "sub_1")

	sub, err := env.billing.CancelAtPeriodEnd(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, sub.ID)
	assert.Equal(t, model.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CanceledAt)

	// Access runs until the end of the paid period.
	mine, err := env.billing.GetMySubscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, mine.ID)

	_, err = env.billing.CancelAtPeriodEnd(ctx, user.ID)
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
}

func TestBillingService_GetMySubscriptionAndPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t)

	_, err := env.billing.GetMySubscription(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	payments, err := env.billing.ListMyPayments(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}
