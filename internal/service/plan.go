package service

import (
	"context"
	"errors"
	"fmt"
	"saas-billing/internal/apperror"
	"saas-billing/internal/client"
	"saas-billing/internal/dto"
	"saas-billing/internal/model"
	"saas-billing/internal/repository"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type PlanService interface {
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	CreatePlan(ctx context.Context, req *dto.CreatePlanRequest) (*model.Plan, error)
	UpdatePlan(ctx context.Context, id string, req *dto.UpdatePlanRequest) (*model.Plan, error)
	DeletePlan(ctx context.Context, id string) error
}

type planServiceImpl struct {
	db           *gorm.DB
	stripeClient client.StripeClient
	planRepo     repository.PlanRepository
	logger       zerolog.Logger
}

func NewPlanService(
	db *gorm.DB,
	stripeClient client.StripeClient,
	planRepo repository.PlanRepository,
	logger zerolog.Logger,
) PlanService {
	return &planServiceImpl{
		db:           db,
		stripeClient: stripeClient,
		planRepo:     planRepo,
		logger:       logger.With().Str("component", "plan_service").Logger(),
	}
}

func (s *planServiceImpl) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	plans, err := s.planRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *planServiceImpl) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	plan, err := s.planRepo.GetByID(ctx, s.db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (s *planServiceImpl) CreatePlan(ctx context.Context, req *dto.CreatePlanRequest) (*model.Plan, error) {
	plan := &model.Plan{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		Code:            strings.TrimSpace(req.Code),
		PriceCents:      req.PriceCents,
		Currency:        strings.ToLower(strings.TrimSpace(req.Currency)),
		BillingPeriod:   req.BillingPeriod,
		StripeProductID: req.StripeProductID,
		StripePriceID:   req.StripePriceID,
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	if err := s.ensureCodeAvailable(ctx, plan.Code, ""); err != nil {
		return nil, err
	}

	// Plans may be linked to a price that already exists in Stripe.
	if plan.StripePriceID == "" {
		productID, priceID, err := s.stripeClient.CreateProductPrice(ctx, plan)
		if err != nil {
			return nil, err
		}
		plan.StripeProductID = productID
		plan.StripePriceID = priceID
	}

	if err := s.planRepo.Create(ctx, plan); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePlanCode
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}

	s.logger.Info().Str("plan_id", plan.ID).Str("code", plan.Code).Msg("plan created")
	return plan, nil
}

func (s *planServiceImpl) UpdatePlan(ctx context.Context, id string, req *dto.UpdatePlanRequest) (*model.Plan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}

	renamed, repriced := false, false
	if req.StripeProductID != nil && plan.StripeProductID == "" {
		plan.StripeProductID = strings.TrimSpace(*req.StripeProductID)
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != plan.Name {
		plan.Name = strings.TrimSpace(*req.Name)
		renamed = true
	}
	if req.Code != nil && strings.TrimSpace(*req.Code) != plan.Code {
		plan.Code = strings.TrimSpace(*req.Code)
		if err := s.ensureCodeAvailable(ctx, plan.Code, plan.ID); err != nil {
			return nil, err
		}
	}
	if req.PriceCents != nil && *req.PriceCents != plan.PriceCents {
		plan.PriceCents = *req.PriceCents
		repriced = true
	}
	if req.Currency != nil && strings.ToLower(strings.TrimSpace(*req.Currency)) != plan.Currency {
		plan.Currency = strings.ToLower(strings.TrimSpace(*req.Currency))
		repriced = true
	}
	if req.BillingPeriod != nil && *req.BillingPeriod != plan.BillingPeriod {
		plan.BillingPeriod = *req.BillingPeriod
		repriced = true
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	if repriced && plan.StripeProductID == "" && plan.StripePriceID != "" {
		return nil, apperror.New(apperror.ErrValidation, "plan is linked to a Stripe price without its product, set stripe_product_id to reprice it")
	}

	supersededPriceID := ""
	if plan.StripeProductID != "" {
		if renamed {
			if err := s.stripeClient.RenameProduct(ctx, plan.StripeProductID, plan.Name); err != nil {
				return nil, err
			}
		}
		// Stripe prices are immutable. Existing subscribers stay on the old one.
		if repriced {
			priceID, err := s.stripeClient.CreatePrice(ctx, plan.StripeProductID, plan)
			if err != nil {
				return nil, err
			}
			supersededPriceID = plan.StripePriceID
			plan.StripePriceID = priceID
		}
	}

	if err := s.planRepo.Update(ctx, plan); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePlanCode
		}
		return nil, fmt.Errorf("update plan: %w", err)
	}

	// The old price only loses new checkouts, so a failure here is not fatal.
	if supersededPriceID != "" {
		if err := s.stripeClient.DeactivatePrice(ctx, supersededPriceID); err != nil {
			s.logger.Warn().Err(err).Str("plan_id", plan.ID).Str("price_id", supersededPriceID).Msg("deactivate superseded price failed")
		}
	}

	return plan, nil
}

// DeletePlan retires the plan. Subscriptions already on it keep renewing
// until they are canceled.
func (s *planServiceImpl) DeletePlan(ctx context.Context, id string) error {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if !plan.IsActive {
		return ErrPlanAlreadyDeleted
	}

	if err := s.stripeClient.ArchivePlan(ctx, plan); err != nil {
		return err
	}

	plan.IsActive = false
	if err := s.planRepo.Update(ctx, plan); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}

	s.logger.Info().Str("plan_id", plan.ID).Str("code", plan.Code).Msg("plan deleted")
	return nil
}

func (s *planServiceImpl) ensureCodeAvailable(ctx context.Context, code, exceptID string) error {
	existing, err := s.planRepo.GetActiveByCode(ctx, s.db, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check plan code: %w", err)
	}
	if existing.ID != exceptID {
		return ErrDuplicatePlanCode
	}
	return nil
}

func validatePlan(plan *model.Plan) error {
	switch {
	case plan.Name == "":
		return apperror.New(apperror.ErrValidation, "plan name is required")
	case plan.Code == "":
		return apperror.New(apperror.ErrValidation, "plan code is required")
	case plan.PriceCents < 0:
		return apperror.New(apperror.ErrValidation, "price must not be negative")
	case len(plan.Currency) != 3:
		return apperror.New(apperror.ErrValidation, "currency must be a three letter ISO code")
	case !model.ValidBillingPeriod(plan.BillingPeriod):
		return apperror.New(apperror.ErrValidation, "billing period must be monthly or yearly")
	}
	return nil
}
