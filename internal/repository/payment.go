package repository

import (
	"context"
	"saas-billing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	// Record inserts the payment unless a row for its invoice already exists.
	Record(ctx context.Context, tx *gorm.DB, payment *model.Payment) (created bool, err error)
	// Transition moves an existing invoice row to status `to` if it is
	// currently in one of `from`.
	Transition(ctx context.Context, tx *gorm.DB, invoiceID string, from []string, to string) (bool, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*model.Payment, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Payment, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) Record(ctx context.Context, tx *gorm.DB, payment *model.Payment) (bool, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_id"}},
			DoNothing: true,
		}).
		Create(payment)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *paymentRepoImpl) Transition(ctx context.Context, tx *gorm.DB, invoiceID string, from []string, to string) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("invoice_id = ? AND status IN ?", invoiceID, from).
		Update("status", to)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *paymentRepoImpl) GetByInvoiceID(ctx context.Context, invoiceID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) ListForUser(ctx context.Context, userID string) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error

	return payments, err
}
