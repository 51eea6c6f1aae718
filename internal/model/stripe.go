package model

import "time"

// Correlation metadata keys attached to checkout sessions and their subscriptions.
const (
	MetadataUserID      = "user_id"
	MetadataPlanID      = "plan_id"
	MetadataPlanCode    = "plan_code"
	MetadataUpgradeFrom = "upgrade_from_subscription_id"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

const (
	BillingReasonSubscriptionCreate = "subscription_create"
	BillingReasonSubscriptionCycle  = "subscription_cycle"
)

// StripeEvent is one of CheckoutCompleted, InvoicePaid, InvoiceFailed,
// SubscriptionDeleted or UnhandledEvent.
type StripeEvent interface {
	EventID() string
	EventType() string
	stripeEvent()
}

type EventHeader struct {
	ID      string
	Type    string
	Created time.Time
}

func (h EventHeader) EventID() string   { return h.ID }
func (h EventHeader) EventType() string { return h.Type }
func (EventHeader) stripeEvent()        {}

type CheckoutMetadata struct {
	UserID                    string
	PlanID                    string
	PlanCode                  string
	UpgradeFromSubscriptionID string
}

func CheckoutMetadataFromMap(m map[string]string) CheckoutMetadata {
	return CheckoutMetadata{
		UserID:                    m[MetadataUserID],
		PlanID:                    m[MetadataPlanID],
		PlanCode:                  m[MetadataPlanCode],
		UpgradeFromSubscriptionID: m[MetadataUpgradeFrom],
	}
}

func (m CheckoutMetadata) Map() map[string]string {
	out := map[string]string{
		MetadataUserID:   m.UserID,
		MetadataPlanID:   m.PlanID,
		MetadataPlanCode: m.PlanCode,
	}
	if m.UpgradeFromSubscriptionID != "" {
		out[MetadataUpgradeFrom] = m.UpgradeFromSubscriptionID
	}
	return out
}

type CheckoutCompleted struct {
	EventHeader
	SessionID         string
	SubscriptionID    string
	CustomerID        string
	ClientReferenceID string
	Metadata          CheckoutMetadata
}

type InvoicePaid struct {
	EventHeader
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	BillingReason  string
	Amount         int64
	Currency       string
}

type InvoiceFailed struct {
	EventHeader
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Amount         int64
	Currency       string
}

type SubscriptionDeleted struct {
	EventHeader
	SubscriptionID string
	CustomerID     string
	CanceledAt     *time.Time
	EndedAt        *time.Time
}

type UnhandledEvent struct {
	EventHeader
}

// ProviderSubscription is the canonical subscription state re-fetched from the provider.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	EndedAt            *time.Time
	Metadata           map[string]string
}

// Terminated reports whether the provider will never bill this subscription again.
func (s *ProviderSubscription) Terminated() bool {
	return s.Status == "canceled" || s.Status == "incomplete_expired"
}
