package dto

import (
	"saas-billing/internal/model"
	"time"
)

type CreatePlanRequest struct {
	Name            string `json:"name"`
	Code            string `json:"code"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	BillingPeriod   string `json:"billing_period"`
	StripeProductID string `json:"stripe_product_id,omitempty"`
	StripePriceID   string `json:"stripe_price_id,omitempty"`
}

type UpdatePlanRequest struct {
	Name            *string `json:"name,omitempty"`
	Code            *string `json:"code,omitempty"`
	PriceCents      *int64  `json:"price_cents,omitempty"`
	Currency        *string `json:"currency,omitempty"`
	BillingPeriod   *string `json:"billing_period,omitempty"`
	StripeProductID *string `json:"stripe_product_id,omitempty"`
}

type PlanResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	PriceCents    int64  `json:"price_cents"`
	Currency      string `json:"currency"`
	BillingPeriod string `json:"billing_period"`
	IsActive      bool   `json:"is_active"`
}

type SubscribeRequest struct {
	PlanCode string `json:"plan_code"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type SubscriptionResponse struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	PlanID                 string     `json:"plan_id"`
	Status                 string     `json:"status"`
	Provider               string     `json:"provider"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	StartedAt              time.Time  `json:"started_at"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end"`
	CanceledAt             *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
}

type PaymentResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	InvoiceID      string    `json:"invoice_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

func NewPlanResponse(plan *model.Plan) *PlanResponse {
	return &PlanResponse{
		ID:            plan.ID,
		Name:          plan.Name,
		Code:          plan.Code,
		PriceCents:    plan.PriceCents,
		Currency:      plan.Currency,
		BillingPeriod: plan.BillingPeriod,
		IsActive:      plan.IsActive,
	}
}

func NewPlanResponses(plans []*model.Plan) []*PlanResponse {
	out := make([]*PlanResponse, len(plans))
	for i, plan := range plans {
		out[i] = NewPlanResponse(plan)
	}
	return out
}

func NewSubscriptionResponse(sub *model.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:                     sub.ID,
		UserID:                 sub.UserID,
		PlanID:                 sub.PlanID,
		Status:                 sub.Status,
		Provider:               sub.Provider,
		ProviderSubscriptionID: sub.ProviderSubscriptionIDValue(),
		StartedAt:              sub.StartedAt,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		CanceledAt:             sub.CanceledAt,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
}

func NewPaymentResponses(payments []*model.Payment) []*PaymentResponse {
	out := make([]*PaymentResponse, len(payments))
	for i, p := range payments {
		out[i] = &PaymentResponse{
			ID:             p.ID,
			SubscriptionID: p.SubscriptionID,
			InvoiceID:      p.InvoiceID,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Status:         p.Status,
			CreatedAt:      p.CreatedAt,
		}
	}
	return out
}
