// Package subscriptions implements the local subscription lifecycle:
// status mapping, processor object translation and the member-facing
// cancel and reactivate operations.
package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/internal/billing"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the member-facing subscription lifecycle surface. Cancel
// and Reactivate act on the caller's current live subscription.
type Service interface {
	Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      StripeSubscriptionClient
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	billingRepo billing.Repository
	stripe      StripeSubscriptionClient
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// Cancel schedules the caller's live subscription for cancellation at period
// end. Status is untouched; the terminal transition arrives later through the
// processor's lifecycle events.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.currentLiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if sub.PaymentProcessor == nil || *sub.PaymentProcessor != enums.PaymentProcessorStripe ||
		sub.ProcessorSubscriptionID == nil || *sub.ProcessorSubscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is not billed through a card processor")
	}

	ctx = s.logg.WithSubscriptionID(ctx, sub.ID.String())

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := s.stripe.Update(ctx, *sub.ProcessorSubscriptionID, params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule stripe cancellation")
	}
	sub.CancelAtPeriodEnd = true

	if err := s.persistWithAudit(ctx, sub, "subscription.cancel", userID); err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "subscription cancellation scheduled")
	return sub, nil
}

// Reactivate clears a pending cancellation on the caller's live subscription
// before the period ends.
func (s *service) Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.currentLiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !sub.CancelAtPeriodEnd {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription is not pending cancellation")
	}
	if sub.Status == enums.SubscriptionStatusPastDue {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription is past due")
	}

	ctx = s.logg.WithSubscriptionID(ctx, sub.ID.String())

	if sub.PaymentProcessor != nil && *sub.PaymentProcessor == enums.PaymentProcessorStripe &&
		sub.ProcessorSubscriptionID != nil && *sub.ProcessorSubscriptionID != "" {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(false),
		}
		if _, err := s.stripe.Update(ctx, *sub.ProcessorSubscriptionID, params); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stripe cancellation")
		}
	}

	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil

	if err := s.persistWithAudit(ctx, sub, "subscription.reactivate", userID); err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "subscription reactivated")
	return sub, nil
}

// ListForUser returns the caller's subscriptions, newest first.
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	subs, err := s.billingRepo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	return subs, nil
}

// currentLiveSubscription resolves the caller's newest subscription that
// still grants access.
func (s *service) currentLiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	subs, err := s.billingRepo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	for i := range subs {
		if subs[i].Status.IsLive() {
			return &subs[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
}

func (s *service) persistWithAudit(ctx context.Context, sub *models.Subscription, action string, actorID uuid.UUID) error {
	detail, _ := json.Marshal(map[string]any{
		"status":               sub.Status,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		entry := &models.AuditLog{
			Action:     action,
			EntityType: "subscription",
			EntityID:   &sub.ID,
			ActorID:    &actorID,
			Detail:     detail,
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write audit log")
		}
		return nil
	})
}
