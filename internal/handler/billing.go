package handler

import (
	"net/http"
	"saas-billing/internal/dto"
	"saas-billing/internal/middleware"
	"saas-billing/internal/service"
	"strings"

	"github.com/labstack/echo/v4"
)

type BillingHandler struct {
	billingService service.BillingService
}

func NewBillingHandler(billingService service.BillingService) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
	}
}

func bindPlanCode(c echo.Context) (string, error) {
	var req dto.SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	code := strings.TrimSpace(req.PlanCode)
	if code == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "plan_code is required")
	}
	return code, nil
}

func (h *BillingHandler) Subscribe(c echo.Context) error {
	ctx := c.Request().Context()

	planCode, err := bindPlanCode(c)
	if err != nil {
		return err
	}

	url, err := h.billingService.Subscribe(ctx, middleware.UserID(c), planCode)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, &dto.CheckoutResponse{CheckoutURL: url})
}

func (h *BillingHandler) Upgrade(c echo.Context) error {
	ctx := c.Request().Context()

	planCode, err := bindPlanCode(c)
	if err != nil {
		return err
	}

	url, err := h.billingService.Upgrade(ctx, middleware.UserID(c), planCode)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, &dto.CheckoutResponse{CheckoutURL: url})
}

func (h *BillingHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	sub, err := h.billingService.CancelAtPeriodEnd(ctx, middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewSubscriptionResponse(sub))
}

func (h *BillingHandler) GetMySubscription(c echo.Context) error {
	ctx := c.Request().Context()

	sub, err := h.billingService.GetMySubscription(ctx, middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewSubscriptionResponse(sub))
}

func (h *BillingHandler) ListMyPayments(c echo.Context) error {
	ctx := c.Request().Context()

	payments, err := h.billingService.ListMyPayments(ctx, middleware.UserID(c))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewPaymentResponses(payments))
}
