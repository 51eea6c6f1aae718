package repository

import (
	"context"
	"saas-billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PlanRepository interface {
	ListActive(ctx context.Context) ([]*model.Plan, error)
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Plan, error)
	GetActiveByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Plan, error)
	Create(ctx context.Context, plan *model.Plan) error
	Update(ctx context.Context, plan *model.Plan) error
}

type planRepoImpl struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepoImpl{
		db: db,
	}
}

func (r *planRepoImpl) ListActive(ctx context.Context) ([]*model.Plan, error) {
	var plans []*model.Plan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price_cents ASC").
		Find(&plans).Error

	return plans, err
}

// GetByID returns inactive plans too; subscriptions keep pointing at plans
// that were retired after purchase.
func (r *planRepoImpl) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Plan, error) {
	var plan model.Plan
	err := tx.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error

	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (r *planRepoImpl) GetActiveByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Plan, error) {
	var plan model.Plan
	err := tx.WithContext(ctx).
		Where("code = ? AND is_active = ?", code, true).
		First(&plan).Error

	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (r *planRepoImpl) Create(ctx context.Context, plan *model.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.IsActive = true
	syncActiveCode(plan)
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *planRepoImpl) Update(ctx context.Context, plan *model.Plan) error {
	syncActiveCode(plan)
	return r.db.WithContext(ctx).Save(plan).Error
}

func syncActiveCode(plan *model.Plan) {
	if !plan.IsActive {
		plan.ActiveCode = nil
		return
	}
	code := plan.Code
	plan.ActiveCode = &code
}
