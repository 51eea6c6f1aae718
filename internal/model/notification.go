package model

import "time"

type NotificationKind string

const (
	NotificationWelcome       NotificationKind = "subscription_welcome"
	NotificationRenewal       NotificationKind = "subscription_renewed"
	NotificationPaymentFailed NotificationKind = "payment_failed"
)

// Notification is an outbound message enqueued after a billing state change
// commits. Plan and period details are captured at enqueue time.
type Notification struct {
	ID             string           `json:"id"`
	Kind           NotificationKind `json:"kind"`
	UserID         string           `json:"user_id"`
	SubscriptionID string           `json:"subscription_id"`
	PlanName       string           `json:"plan_name"`
	InvoiceID      string           `json:"invoice_id,omitempty"`
	Amount         int64            `json:"amount,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	PeriodEnd      *time.Time       `json:"period_end,omitempty"`
	Attempts       int              `json:"attempts"`
	CreatedAt      time.Time        `json:"created_at"`
}
