package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingCheckout is an open checkout session handed to a user that has
// not completed yet.
type PendingCheckout struct {
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	PlanID      string    `json:"plan_id"`
	UpgradeFrom string    `json:"upgrade_from,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type PendingCheckoutRepository interface {
	Get(ctx context.Context, userID string) (*PendingCheckout, error)
	Save(ctx context.Context, userID string, checkout *PendingCheckout) error
	Delete(ctx context.Context, userID string) error
}

// pendingCheckoutMargin keeps us from handing out a session that expires
// before the user can finish paying.
const pendingCheckoutMargin = 5 * time.Minute

type pendingCheckoutRepoImpl struct {
	rdb redis.UniversalClient
}

func NewPendingCheckoutRepository(rdb redis.UniversalClient) PendingCheckoutRepository {
	return &pendingCheckoutRepoImpl{rdb: rdb}
}

func pendingCheckoutKey(userID string) string {
	return "billing:checkout:pending:" + userID
}

func (r *pendingCheckoutRepoImpl) Get(ctx context.Context, userID string) (*PendingCheckout, error) {
	raw, err := r.rdb.Get(ctx, pendingCheckoutKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending checkout: %w", err)
	}

	var checkout PendingCheckout
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return nil, fmt.Errorf("decode pending checkout: %w", err)
	}

	return &checkout, nil
}

func (r *pendingCheckoutRepoImpl) Save(ctx context.Context, userID string, checkout *PendingCheckout) error {
	ttl := time.Until(checkout.ExpiresAt) - pendingCheckoutMargin
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(checkout)
	if err != nil {
		return fmt.Errorf("encode pending checkout: %w", err)
	}

	if err := r.rdb.Set(ctx, pendingCheckoutKey(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save pending checkout: %w", err)
	}

	return nil
}

func (r *pendingCheckoutRepoImpl) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, pendingCheckoutKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete pending checkout: %w", err)
	}
	return nil
}
