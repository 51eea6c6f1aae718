package service

import (
	"errors"
	"saas-billing/internal/apperror"
)

var (
	ErrPlanNotFound       = apperror.New(apperror.ErrNotFound, "plan not found")
	ErrPlanNotPurchasable = apperror.New(apperror.ErrValidation, "plan is not available for purchase")
	ErrDuplicatePlanCode  = apperror.New(apperror.ErrValidation, "an active plan with this code already exists")
	ErrPlanAlreadyDeleted = apperror.New(apperror.ErrValidation, "plan is already deleted")

	ErrUserNotFound         = apperror.New(apperror.ErrNotFound, "user not found")
	ErrNoActiveSubscription = apperror.New(apperror.ErrNotFound, "no active subscription")
	ErrAlreadySubscribed    = apperror.New(apperror.ErrStateConflict, "already subscribed")
	ErrAlreadyOnPlan        = apperror.New(apperror.ErrStateConflict, "already on this plan")
	ErrAlreadyScheduled     = apperror.New(apperror.ErrStateConflict, "subscription is already scheduled for cancellation")
	ErrSubscriptionChanged  = apperror.New(apperror.ErrStateConflict, "subscription changed while starting checkout, please retry")
)

// errSubscriptionNotSynced means an invoice event arrived before the
// checkout event that creates the local row. The provider redelivers.
var errSubscriptionNotSynced = errors.New("subscription not recorded locally yet")
