package handler

import (
	"net/http"
	"saas-billing/internal/dto"
	"saas-billing/internal/service"

	"github.com/labstack/echo/v4"
)

type PlanHandler struct {
	planService service.PlanService
}

func NewPlanHandler(planService service.PlanService) *PlanHandler {
	return &PlanHandler{
		planService: planService,
	}
}

func (h *PlanHandler) ListPlans(c echo.Context) error {
	ctx := c.Request().Context()

	plans, err := h.planService.ListPlans(ctx)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewPlanResponses(plans))
}

func (h *PlanHandler) GetPlan(c echo.Context) error {
	ctx := c.Request().Context()

	plan, err := h.planService.GetPlan(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewPlanResponse(plan))
}

func (h *PlanHandler) CreatePlan(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	plan, err := h.planService.CreatePlan(ctx, &req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, dto.NewPlanResponse(plan))
}

func (h *PlanHandler) UpdatePlan(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.UpdatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	plan, err := h.planService.UpdatePlan(ctx, c.Param("id"), &req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, dto.NewPlanResponse(plan))
}

func (h *PlanHandler) DeletePlan(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.planService.DeletePlan(ctx, c.Param("id")); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
