package repository

import (
	"context"
	"saas-billing/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// SetProviderCustomerID stores customerID only if the user has none yet.
	// It reports whether this call was the one that stored it.
	SetProviderCustomerID(ctx context.Context, userID, customerID string) (bool, error)
}

type userRepoImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepoImpl{
		db: db,
	}
}

func (r *userRepoImpl) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepoImpl) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *userRepoImpl) SetProviderCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND (provider_customer_id IS NULL OR provider_customer_id = '')", userID).
		Update("provider_customer_id", customerID)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// lockUser takes a row lock on the user so that concurrent subscription
// writes for the same user serialize. SQLite ignores the locking clause and
// serializes writers on its own.
func lockUser(ctx context.Context, tx *gorm.DB, userID string) error {
	var users []model.User
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", userID).
		Find(&users).Error
}
