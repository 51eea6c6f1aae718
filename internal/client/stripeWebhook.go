package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"saas-billing/internal/apperror"
	"saas-billing/internal/model"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// expandableID decodes a Stripe reference that is either an id string or an
// expanded object carrying an "id" field.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type stripeEventObject struct {
	ID                string            `json:"id"`
	Subscription      expandableID      `json:"subscription"`
	Customer          expandableID      `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	BillingReason     string            `json:"billing_reason"`
	AmountPaid        int64             `json:"amount_paid"`
	AmountDue         int64             `json:"amount_due"`
	Currency          string            `json:"currency"`
	CanceledAt        int64             `json:"canceled_at"`
	EndedAt           int64             `json:"ended_at"`
	Parent            struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Parent struct {
				SubscriptionItemDetails struct {
					Subscription expandableID `json:"subscription"`
				} `json:"subscription_item_details"`
			} `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

// invoiceSubscriptionID prefers the line-item parent, where current API
// versions put it, over the legacy top-level field.
func (o *stripeEventObject) invoiceSubscriptionID() string {
	if len(o.Lines.Data) > 0 {
		if id := o.Lines.Data[0].Parent.SubscriptionItemDetails.Subscription; id != "" {
			return string(id)
		}
	}
	if id := o.Parent.SubscriptionDetails.Subscription; id != "" {
		return string(id)
	}
	return string(o.Subscription)
}

// ParseStripeWebhook verifies the Stripe-Signature header against the raw
// payload and decodes the event into its typed variant.
func ParseStripeWebhook(payload []byte, signature, secret string) (model.StripeEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrSignature, err)
	}

	header := model.EventHeader{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	switch header.Type {
	case model.EventCheckoutSessionCompleted,
		model.EventInvoicePaymentSucceeded,
		model.EventInvoicePaymentFailed,
		model.EventSubscriptionDeleted:
	default:
		return &model.UnhandledEvent{EventHeader: header}, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", apperror.ErrValidation, event.ID)
	}

	var obj stripeEventObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode %s object: %w", apperror.ErrValidation, header.Type, err)
	}

	switch header.Type {
	case model.EventCheckoutSessionCompleted:
		return &model.CheckoutCompleted{
			EventHeader:       header,
			SessionID:         obj.ID,
			SubscriptionID:    string(obj.Subscription),
			CustomerID:        string(obj.Customer),
			ClientReferenceID: obj.ClientReferenceID,
			Metadata:          model.CheckoutMetadataFromMap(obj.Metadata),
		}, nil
	case model.EventInvoicePaymentSucceeded:
		return &model.InvoicePaid{
			EventHeader:    header,
			InvoiceID:      obj.ID,
			SubscriptionID: obj.invoiceSubscriptionID(),
			CustomerID:     string(obj.Customer),
			BillingReason:  obj.BillingReason,
			Amount:         obj.AmountPaid,
			Currency:       obj.Currency,
		}, nil
	case model.EventInvoicePaymentFailed:
		return &model.InvoiceFailed{
			EventHeader:    header,
			InvoiceID:      obj.ID,
			SubscriptionID: obj.invoiceSubscriptionID(),
			CustomerID:     string(obj.Customer),
			Amount:         obj.AmountDue,
			Currency:       obj.Currency,
		}, nil
	default:
		return &model.SubscriptionDeleted{
			EventHeader:    header,
			SubscriptionID: obj.ID,
			CustomerID:     string(obj.Customer),
			CanceledAt:     unixTimePtr(obj.CanceledAt),
			EndedAt:        unixTimePtr(obj.EndedAt),
		}, nil
	}
}

// SignStripePayload produces a valid Stripe-Signature header for payload.
// Used by tests and local tooling that replay events.
func SignStripePayload(payload []byte, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}
