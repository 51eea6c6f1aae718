package repository

import (
	"context"
	"testing"
	"time"

	"saas-billing/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRepository_RecordIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	created, err := repo.Record(ctx, db, &model.Payment{
		SubscriptionID: "sub-1",
		UserID:         "user-1",
		InvoiceID:      "in_1",
		Amount:         1999,
		Currency:       "usd",
		Status:         model.PaymentStatusPaid,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Record(ctx, db, &model.Payment{
		SubscriptionID: "sub-1",
		UserID:         "user-1",
		InvoiceID:      "in_1",
		Amount:         1,
		Currency:       "eur",
		Status:         model.PaymentStatusFailed,
	})
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).Where("invoice_id = ?", "in_1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	payment, err := repo.GetByInvoiceID(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), payment.Amount)
	assert.Equal(t, model.PaymentStatusPaid, payment.Status)
}

func TestPaymentRepository_Transition(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	_, err := repo.Record(ctx, db, &model.Payment{
		SubscriptionID: "sub-1",
		UserID:         "user-1",
		InvoiceID:      "in_2",
		Amount:         500,
		Currency:       "usd",
		Status:         model.PaymentStatusFailed,
	})
	require.NoError(t, err)

	moved, err := repo.Transition(ctx, db, "in_2", []string{model.PaymentStatusPending, model.PaymentStatusFailed}, model.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, moved)

	// paid is not in the source set any more
	moved, err = repo.Transition(ctx, db, "in_2", []string{model.PaymentStatusFailed}, model.PaymentStatusPaid)
	require.NoError(t, err)
	assert.False(t, moved)

	payment, err := repo.GetByInvoiceID(ctx, "in_2")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, payment.Status)
}

func TestPaymentRepository_ListForUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	for i, invoiceID := range []string{"in_a", "in_b", "in_c"} {
		_, err := repo.Record(ctx, db, &model.Payment{
			SubscriptionID: "sub-1",
			UserID:         "user-1",
			InvoiceID:      invoiceID,
			Amount:         int64(100 * (i + 1)),
			Currency:       "usd",
			Status:         model.PaymentStatusPaid,
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	_, err := repo.Record(ctx, db, &model.Payment{
		SubscriptionID: "sub-2",
		UserID:         "user-2",
		InvoiceID:      "in_other",
		Amount:         100,
		Currency:       "usd",
		Status:         model.PaymentStatusPaid,
	})
	require.NoError(t, err)

	payments, err := repo.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "in_c", payments[0].InvoiceID)
	assert.Equal(t, "in_a", payments[2].InvoiceID)
}
