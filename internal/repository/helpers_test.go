package repository

import (
	"context"
	"path/filepath"
	"testing"

	"saas-billing/internal/client"
	"saas-billing/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB opens a file-backed SQLite database. Immediate transactions plus
// a busy timeout make concurrent writers queue instead of failing.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	db, err := client.InitDBClient(client.DriverSqlite, dsn, zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func seedUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()

	id := uuid.NewString()
	user := &model.User{ID: id, Email: id + "@example.com", Username: "user-" + id[:8]}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func seedPlan(t *testing.T, db *gorm.DB, code, period string) *model.Plan {
	t.Helper()

	plan := &model.Plan{
		Name:          code,
		Code:          code,
		PriceCents:    1999,
		Currency:      "usd",
		BillingPeriod: period,
		StripePriceID: "price_" + code,
	}
	require.NoError(t, NewPlanRepository(db).Create(context.Background(), plan))
	return plan
}
