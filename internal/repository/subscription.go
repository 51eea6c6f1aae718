package repository

import (
	"context"
	"errors"
	"saas-billing/internal/model"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreateSubscriptionParams struct {
	UserID                 string
	Plan                   *model.Plan
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
}

type SubscriptionRepository interface {
	// GetAccessSubscription returns the user's access-granting subscription, or nil.
	GetAccessSubscription(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*model.Subscription, error)
	GetByProviderID(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string) (*model.Subscription, error)

	Create(ctx context.Context, tx *gorm.DB, params *CreateSubscriptionParams, now time.Time) (sub *model.Subscription, created bool, err error)
	UpdatePeriod(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string, start, end, now time.Time) (*model.Subscription, error)
	Cancel(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string, canceledAt time.Time, periodEnd *time.Time) (*model.Subscription, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

// accessGranting selects rows whose holder may use the plan at now.
func accessGranting(tx *gorm.DB, now time.Time) *gorm.DB {
	return tx.Where(
		"current_period_end > ? AND (status = ? OR (status = ? AND cancel_at_period_end = ?))",
		now,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusCanceled,
		true,
	)
}

func (r *subscriptionRepoImpl) GetAccessSubscription(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*model.Subscription, error) {
	var sub model.Subscription
	err := accessGranting(tx.WithContext(ctx), now).
		Where("user_id = ?", userID).
		Order("current_period_end DESC").
		First(&sub).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) GetByProviderID(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string) (*model.Subscription, error) {
	return getByProviderID(ctx, tx, provider, providerSubscriptionID, false)
}

// getByProviderID with forUpdate=true is a locking read, which on MySQL
// also sees rows committed after the transaction's snapshot.
func getByProviderID(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string, forUpdate bool) (*model.Subscription, error) {
	q := tx.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub model.Subscription
	err := q.
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// supersede cancels every access-granting subscription of the user except
// exceptID. Superseded rows keep their period end but lose the
// cancel-at-period-end grace, so they stop granting access immediately.
func supersede(ctx context.Context, tx *gorm.DB, userID, exceptID string, now time.Time) error {
	q := accessGranting(tx.WithContext(ctx).Model(&model.Subscription{}), now).
		Where("user_id = ?", userID)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}

	return q.Updates(map[string]interface{}{
		"status":               model.SubscriptionStatusCanceled,
		"cancel_at_period_end": false,
		"canceled_at":          gorm.Expr("COALESCE(canceled_at, ?)", now),
		"updated_at":           now,
	}).Error
}

// Create is idempotent by provider subscription id: a redelivered creation
// returns the existing row untouched with created=false.
func (r *subscriptionRepoImpl) Create(ctx context.Context, tx *gorm.DB, params *CreateSubscriptionParams, now time.Time) (*model.Subscription, bool, error) {
	var (
		result  *model.Subscription
		created bool
	)

	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(ctx, tx, params.UserID); err != nil {
			return err
		}

		existing, err := getByProviderID(ctx, tx, params.Provider, params.ProviderSubscriptionID, true)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		if err := supersede(ctx, tx, params.UserID, "", now); err != nil {
			return err
		}

		providerSubscriptionID := params.ProviderSubscriptionID
		periodEnd := now.Add(params.Plan.ProvisionalPeriod())
		sub := &model.Subscription{
			ID:                     uuid.NewString(),
			UserID:                 params.UserID,
			PlanID:                 params.Plan.ID,
			Status:                 model.SubscriptionStatusActive,
			Provider:               params.Provider,
			ProviderSubscriptionID: &providerSubscriptionID,
			ProviderCustomerID:     params.ProviderCustomerID,
			StartedAt:              now,
			CurrentPeriodEnd:       &periodEnd,
		}
		if err := tx.Create(sub).Error; err != nil {
			return err
		}

		result, created = sub, true
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost an insert race on the provider subscription id.
		existing, getErr := getByProviderID(ctx, tx, params.Provider, params.ProviderSubscriptionID, true)
		if getErr != nil {
			return nil, false, getErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// UpdatePeriod applies the provider's billing window. Rows canceled locally
// are never reactivated: a scheduled cancellation still inside its paid
// window only has the window refreshed, anything else is returned unchanged.
// Returns nil when no row matches.
func (r *subscriptionRepoImpl) UpdatePeriod(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string, start, end, now time.Time) (*model.Subscription, error) {
	var result *model.Subscription

	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := getByProviderID(ctx, tx, provider, providerSubscriptionID, false)
		if err != nil || sub == nil {
			return err
		}
		if err := lockUser(ctx, tx, sub.UserID); err != nil {
			return err
		}
		if sub, err = getByProviderID(ctx, tx, provider, providerSubscriptionID, true); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"started_at":         start,
			"current_period_end": end,
			"updated_at":         now,
		}
		switch {
		case sub.CanceledAt == nil:
			updates["status"] = model.SubscriptionStatusActive
		case sub.GrantsAccess(now):
		default:
			result = sub
			return nil
		}

		if err := tx.Model(&model.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}

		var updated model.Subscription
		if err := tx.Where("id = ?", sub.ID).First(&updated).Error; err != nil {
			return err
		}
		if updated.GrantsAccess(now) {
			if err := supersede(ctx, tx, updated.UserID, updated.ID, now); err != nil {
				return err
			}
		}

		result = &updated
		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// Cancel marks the subscription canceled at period end. When periodEnd is
// given it replaces current_period_end, which revokes access at that
// instant. EXPIRED rows stay EXPIRED. Returns nil when no row matches.
func (r *subscriptionRepoImpl) Cancel(ctx context.Context, tx *gorm.DB, provider, providerSubscriptionID string, canceledAt time.Time, periodEnd *time.Time) (*model.Subscription, error) {
	var result *model.Subscription

	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := getByProviderID(ctx, tx, provider, providerSubscriptionID, true)
		if err != nil || sub == nil {
			return err
		}
		// Scheduling a cancellation on a row that no longer grants access
		// (superseded meanwhile) would hand the grace period back to it.
		if periodEnd == nil && !sub.GrantsAccess(canceledAt) {
			result = sub
			return nil
		}

		updates := map[string]interface{}{
			"cancel_at_period_end": true,
			"canceled_at":          canceledAt,
			"updated_at":           time.Now().UTC(),
		}
		if sub.Status != model.SubscriptionStatusExpired {
			updates["status"] = model.SubscriptionStatusCanceled
		}
		if periodEnd != nil {
			updates["current_period_end"] = *periodEnd
		}

		if err := tx.Model(&model.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}

		var updated model.Subscription
		if err := tx.Where("id = ?", sub.ID).First(&updated).Error; err != nil {
			return err
		}

		result = &updated
		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *subscriptionRepoImpl) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("current_period_end <= ? AND status <> ?", now, model.SubscriptionStatusExpired).
		Updates(map[string]interface{}{
			"status":     model.SubscriptionStatusExpired,
			"updated_at": now,
		})

	return result.RowsAffected, result.Error
}
