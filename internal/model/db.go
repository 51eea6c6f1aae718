package model

import "time"

const (
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusCanceled = "CANCELED"
	SubscriptionStatusPastDue  = "PAST_DUE"
	SubscriptionStatusExpired  = "EXPIRED"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

const ProviderStripe = "stripe"

type Plan struct {
	ID              string `gorm:"primaryKey;size:36;not null"`
	Name            string `gorm:"size:128;not null"`
	Code            string `gorm:"size:64;index;not null"`
	PriceCents      int64  `gorm:"not null"` // minor units
	Currency        string `gorm:"size:8;not null"`
	BillingPeriod   string `gorm:"size:16;not null"` // monthly, yearly
	IsActive        bool   `gorm:"index;not null;default:true"`
	StripeProductID string `gorm:"size:64"`
	StripePriceID   string `gorm:"size:64"`
	// ActiveCode mirrors Code while the plan is active and is NULL once it
	// is retired, so the unique index only binds live plans.
	ActiveCode *string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProvisionalPeriod is the access window granted on creation, before the
// provider reports the authoritative billing period.
func (p *Plan) ProvisionalPeriod() time.Duration {
	if p.BillingPeriod == BillingPeriodYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// StripeInterval maps the billing period onto a Stripe recurring interval.
func (p *Plan) StripeInterval() string {
	if p.BillingPeriod == BillingPeriodYearly {
		return "year"
	}
	return "month"
}

func ValidBillingPeriod(period string) bool {
	return period == BillingPeriodMonthly || period == BillingPeriodYearly
}

// User is owned by the auth service; billing only writes ProviderCustomerID.
type User struct {
	ID                 string  `gorm:"primaryKey;size:36;not null"`
	Email              string  `gorm:"size:255;uniqueIndex;not null"`
	Username           string  `gorm:"size:64"`
	ProviderCustomerID *string `gorm:"size:64;uniqueIndex"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Subscription struct {
	ID                     string     `gorm:"primaryKey;size:36;not null"`
	UserID                 string     `gorm:"size:36;index;not null"`
	PlanID                 string     `gorm:"size:36;index;not null"`
	Status                 string     `gorm:"size:16;index;not null"` // ACTIVE, CANCELED, PAST_DUE, EXPIRED
	Provider               string     `gorm:"size:16;not null"`
	ProviderSubscriptionID *string    `gorm:"size:64;uniqueIndex"`
	ProviderCustomerID     string     `gorm:"size:64;index"`
	StartedAt              time.Time  `gorm:"not null"`
	CurrentPeriodEnd       *time.Time `gorm:"index"`
	CanceledAt             *time.Time
	CancelAtPeriodEnd      bool `gorm:"not null;default:false"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// GrantsAccess reports whether the subscription entitles its user to the
// plan at the given instant.
func (s *Subscription) GrantsAccess(now time.Time) bool {
	if s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(now) {
		return false
	}
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusCanceled:
		return s.CancelAtPeriodEnd
	}
	return false
}

func (s *Subscription) ProviderSubscriptionIDValue() string {
	if s.ProviderSubscriptionID == nil {
		return ""
	}
	return *s.ProviderSubscriptionID
}

type Payment struct {
	ID             string `gorm:"primaryKey;size:36;not null"`
	SubscriptionID string `gorm:"size:36;index;not null"`
	UserID         string `gorm:"size:36;index;not null"`
	InvoiceID      string `gorm:"size:64;uniqueIndex;not null"` // provider invoice id
	Amount         int64  `gorm:"not null"`                     // minor units
	Currency       string `gorm:"size:8;not null"`
	Status         string `gorm:"size:16;index;not null"` // pending, paid, failed, refunded
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
