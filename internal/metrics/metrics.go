// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_events_total",
		Help:      "Stripe webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Checkout sessions returned to users by intent and whether a pending one was reused.",
	}, []string{"intent", "source"})

	SubscriptionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "subscriptions_expired_total",
		Help:      "Subscriptions moved to EXPIRED by the sweeper.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "notifications_total",
		Help:      "Notification deliveries by kind and result.",
	}, []string{"kind", "result"})
)
