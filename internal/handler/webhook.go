package handler

import (
	"errors"
	"io"
	"net/http"
	"saas-billing/internal/apperror"
	"saas-billing/internal/dto"
	"saas-billing/internal/service"

	"github.com/labstack/echo/v4"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
	}
}

// StripeWebhook answers 2xx only once the event is applied or known to need
// no action. Any other failure is 503 so Stripe redelivers.
func (h *WebhookHandler) StripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	status, err := h.webhookService.HandleStripeWebhook(ctx, body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, apperror.ErrSignature) || errors.Is(err, apperror.ErrValidation) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event not processed, retry later").SetInternal(err)
	}

	return c.JSON(http.StatusOK, &dto.WebhookResponse{Status: status})
}
