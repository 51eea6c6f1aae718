package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"saas-billing/internal/apperror"
	"saas-billing/internal/config"
	"saas-billing/internal/model"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"
)

type StripeClient interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req *CreateCheckoutSessionRequest) (*CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	GetSubscription(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error)

	CreateProductPrice(ctx context.Context, plan *model.Plan) (productID string, priceID string, err error)
	CreatePrice(ctx context.Context, productID string, plan *model.Plan) (string, error)
	RenameProduct(ctx context.Context, productID, name string) error
	DeactivatePrice(ctx context.Context, priceID string) error
	ArchivePlan(ctx context.Context, plan *model.Plan) error

	ParseWebhook(payload []byte, signature string) (model.StripeEvent, error)
}

type CreateCheckoutSessionRequest struct {
	CustomerID        string
	PriceID           string
	ClientReferenceID string
	Metadata          map[string]string
	ExpiresAt         time.Time
	IdempotencyKey    string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type stripeClientImpl struct {
	api           *stripeclient.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeClient builds an explicit API client. Network failures, 5xx, 409
// and 429 responses are retried by the SDK up to MaxNetworkRetries times.
func NewStripeClient(stripeCfg *config.Stripe) StripeClient {
	backendConfig := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		MaxNetworkRetries: stripe.Int64(stripeCfg.MaxNetworkRetries),
	}

	api := &stripeclient.API{}
	api.Init(stripeCfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	return &stripeClientImpl{
		api:           api,
		webhookSecret: stripeCfg.WebhookSecret,
		successURL:    stripeCfg.SuccessURL,
		cancelURL:     stripeCfg.CancelURL,
	}
}

func (c *stripeClientImpl) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata(model.MetadataUserID, userID)
	// The same user always maps to the same customer, even across retries and racing requests.
	params.SetIdempotencyKey("customer-" + userID)

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return "", gatewayError("create customer", err)
	}

	return customer.ID, nil
}

func (c *stripeClientImpl) CreateCheckoutSession(ctx context.Context, req *CreateCheckoutSessionRequest) (*CheckoutSession, error) {
	subscriptionData := &stripe.CheckoutSessionSubscriptionDataParams{}
	for k, v := range req.Metadata {
		subscriptionData.AddMetadata(k, v)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: subscriptionData,
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}

	return &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0),
	}, nil
}

// ExpireCheckoutSession closes an open session so it can no longer be paid.
func (c *stripeClientImpl) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := c.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return gatewayError("expire checkout session", err)
	}

	return nil
}

func (c *stripeClientImpl) GetSubscription(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, gatewayError("get subscription", err)
	}

	return toProviderSubscription(sub), nil
}

// CancelSubscription terminates the subscription immediately. Already
// terminated subscriptions are left alone so repeated calls are harmless.
func (c *stripeClientImpl) CancelSubscription(ctx context.Context, subscriptionID string) error {
	current, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if current.Terminated() {
		return nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return gatewayError("cancel subscription", err)
	}

	return nil
}

func (c *stripeClientImpl) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, gatewayError("set cancel at period end", err)
	}

	return toProviderSubscription(sub), nil
}

func (c *stripeClientImpl) CreateProductPrice(ctx context.Context, plan *model.Plan) (string, string, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(plan.Name),
	}
	params.Context = ctx
	params.AddMetadata(model.MetadataPlanID, plan.ID)
	params.AddMetadata(model.MetadataPlanCode, plan.Code)

	product, err := c.api.Products.New(params)
	if err != nil {
		return "", "", gatewayError("create product", err)
	}

	priceID, err := c.CreatePrice(ctx, product.ID, plan)
	if err != nil {
		return "", "", err
	}

	return product.ID, priceID, nil
}

func (c *stripeClientImpl) CreatePrice(ctx context.Context, productID string, plan *model.Plan) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(plan.PriceCents),
		Currency:   stripe.String(plan.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(plan.StripeInterval()),
		},
	}
	params.Context = ctx
	params.AddMetadata(model.MetadataPlanID, plan.ID)

	price, err := c.api.Prices.New(params)
	if err != nil {
		return "", gatewayError("create price", err)
	}

	return price.ID, nil
}

func (c *stripeClientImpl) RenameProduct(ctx context.Context, productID, name string) error {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx

	if _, err := c.api.Products.Update(productID, params); err != nil {
		return gatewayError("rename product", err)
	}

	return nil
}

// DeactivatePrice stops new checkouts on the price. Subscriptions already
// billed on it keep renewing.
func (c *stripeClientImpl) DeactivatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := c.api.Prices.Update(priceID, params); err != nil {
		return gatewayError("archive price", err)
	}
	return nil
}

// ArchivePlan deactivates the price before the product, Stripe refuses to
// archive a product whose default price is still active.
func (c *stripeClientImpl) ArchivePlan(ctx context.Context, plan *model.Plan) error {
	if plan.StripePriceID != "" {
		if err := c.DeactivatePrice(ctx, plan.StripePriceID); err != nil {
			return err
		}
	}

	if plan.StripeProductID != "" {
		params := &stripe.ProductParams{Active: stripe.Bool(false)}
		params.Context = ctx
		if _, err := c.api.Products.Update(plan.StripeProductID, params); err != nil {
			return gatewayError("archive product", err)
		}
	}

	return nil
}

func (c *stripeClientImpl) ParseWebhook(payload []byte, signature string) (model.StripeEvent, error) {
	return ParseStripeWebhook(payload, signature, c.webhookSecret)
}

func toProviderSubscription(sub *stripe.Subscription) *model.ProviderSubscription {
	out := &model.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTimePtr(sub.CanceledAt),
		EndedAt:           unixTimePtr(sub.EndedAt),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// Billing periods live on the subscription items.
	var start, end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > end {
				start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
			}
		}
	}
	if end > 0 {
		out.CurrentPeriodStart = time.Unix(start, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}

	return out
}

func unixTimePtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// gatewayError classifies a Stripe failure. 4xx responses other than 409 and
// 429 are permanent rejections; everything else already went through the
// SDK's bounded retries and is reported as unavailable.
func gatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		status := stripeErr.HTTPStatusCode
		if status >= 400 && status < 500 && status != http.StatusConflict && status != http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %s: %w", apperror.ErrGatewayRejected, op, err)
		}
	}
	return fmt.Errorf("%w: stripe %s: %w", apperror.ErrGatewayUnavailable, op, err)
}
