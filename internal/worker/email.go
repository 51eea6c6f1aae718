package worker

import (
	"fmt"
	"html"
	"saas-billing/internal/client"
	"saas-billing/internal/model"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies Stripe bills without a minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

func formatAmount(amount int64, currency string) string {
	currency = strings.ToLower(currency)
	if zeroDecimalCurrencies[currency] {
		return fmt.Sprintf("%d %s", amount, strings.ToUpper(currency))
	}
	return decimal.New(amount, -2).StringFixed(2) + " " + strings.ToUpper(currency)
}

func renderEmail(n *model.Notification, user *model.User) *client.EmailMessage {
	name := user.Username
	if name == "" {
		name = user.Email
	}
	greeting := "<p>Hi " + html.EscapeString(name) + ",</p>"
	plan := html.EscapeString(n.PlanName)

	msg := &client.EmailMessage{
		To:  user.Email,
		Tag: string(n.Kind),
	}

	switch n.Kind {
	case model.NotificationWelcome:
		msg.Subject = "Welcome to " + n.PlanName
		msg.HTMLBody = greeting +
			"<p>Your subscription to <strong>" + plan + "</strong> is active.</p>" +
			paidLine(n) + periodLine(n)
	case model.NotificationRenewal:
		msg.Subject = "Your " + n.PlanName + " subscription has renewed"
		msg.HTMLBody = greeting +
			"<p>Your subscription to <strong>" + plan + "</strong> has renewed.</p>" +
			paidLine(n) + periodLine(n)
	case model.NotificationPaymentFailed:
		msg.Subject = "Payment failed for " + n.PlanName
		msg.HTMLBody = greeting +
			"<p>We could not collect " + formatAmount(n.Amount, n.Currency) +
			" for your <strong>" + plan + "</strong> subscription. " +
			"Please update your payment method to keep access.</p>"
	default:
		return nil
	}

	return msg
}

func paidLine(n *model.Notification) string {
	if n.Amount == 0 {
		return ""
	}
	return "<p>Amount charged: " + formatAmount(n.Amount, n.Currency) + "</p>"
}

func periodLine(n *model.Notification) string {
	if n.PeriodEnd == nil {
		return ""
	}
	return "<p>Current period ends on " + n.PeriodEnd.Format("January 2, 2006") + ".</p>"
}
