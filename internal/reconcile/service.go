// Package reconcile implements the periodic sweep that corrects drift
// between local subscription state and processor truth, and retires
// subscriptions whose grace or trial windows have lapsed.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/internal/access"
	"github.com/deeplux/deeplux-backend/internal/billing"
	"github.com/deeplux/deeplux-backend/internal/subscriptions"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Summary reports what a sweep run touched. Per-item failures increment
// Errors without aborting the remaining work.
type Summary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Service runs the reconciliation sweep.
type Service interface {
	Run(ctx context.Context) (*Summary, error)
}

// ServiceParams groups dependencies for the reconciliation service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      subscriptions.StripeSubscriptionClient
	Access            access.Recomputer
	TransactionRunner txRunner
	GraceDays         int
	Limit             int
	Logger            *logger.Logger
}

type service struct {
	billingRepo billing.Repository
	stripe      subscriptions.StripeSubscriptionClient
	access      access.Recomputer
	txRunner    txRunner
	graceDays   int
	limit       int
	logg        *logger.Logger
}

// NewService builds a reconciliation service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Access == nil {
		return nil, fmt.Errorf("access recomputer required")
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
		access:      params.Access,
		txRunner:    params.TransactionRunner,
		graceDays:   subscriptions.GraceDays(params.GraceDays),
		limit:       params.Limit,
		logg:        params.Logger,
	}, nil
}

// Run executes the three sweep phases in order: remote drift correction for
// live card subscriptions, grace expiry for past_due subscriptions, and
// trial expiry for trials that never attached a processor.
func (s *service) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	now := time.Now().UTC()
	var errs error

	if err := s.sweepStripeDrift(ctx, summary, &errs); err != nil {
		return summary, err
	}
	if err := s.sweepLapsedGrace(ctx, now, summary, &errs); err != nil {
		return summary, err
	}
	if err := s.sweepLapsedTrials(ctx, now, summary, &errs); err != nil {
		return summary, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"checked": summary.Checked,
		"updated": summary.Updated,
		"errors":  summary.Errors,
	})
	if errs != nil {
		s.logg.Warn(ctx, "reconciliation sweep finished with item errors")
	} else {
		s.logg.Info(ctx, "reconciliation sweep finished")
	}
	return summary, nil
}

func (s *service) sweepStripeDrift(ctx context.Context, summary *Summary, errs *error) error {
	subs, err := s.billingRepo.ListLiveProcessorSubscriptions(ctx, enums.PaymentProcessorStripe, s.limit)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list live stripe subscriptions")
	}

	for i := range subs {
		sub := &subs[i]
		summary.Checked++

		remote, err := s.stripe.Get(ctx, *sub.ProcessorSubscriptionID, &stripe.SubscriptionParams{})
		if err != nil {
			summary.Errors++
			*errs = multierr.Append(*errs, fmt.Errorf("fetch %s: %w", *sub.ProcessorSubscriptionID, err))
			continue
		}

		prevStatus := sub.Status
		prevEnd := sub.CurrentPeriodEnd
		if err := subscriptions.UpdateSubscriptionFromStripe(sub, remote); err != nil {
			summary.Errors++
			*errs = multierr.Append(*errs, err)
			continue
		}
		// A row the sweep moves into past_due missed its payment_failed
		// webhook, so the grace window opens here instead.
		if sub.Status == enums.SubscriptionStatusPastDue && sub.GracePeriodEndsAt == nil {
			deadline := time.Now().UTC().AddDate(0, 0, s.graceDays)
			sub.GracePeriodEndsAt = &deadline
		}
		if sub.Status == prevStatus && equalTimePtr(sub.CurrentPeriodEnd, prevEnd) {
			continue
		}

		if err := s.persist(ctx, sub, "subscription.reconciled", map[string]any{
			"from": prevStatus,
			"to":   sub.Status,
		}); err != nil {
			summary.Errors++
			*errs = multierr.Append(*errs, err)
			continue
		}
		summary.Updated++
		s.recompute(ctx, sub)
	}
	return nil
}

func (s *service) sweepLapsedGrace(ctx context.Context, now time.Time, summary *Summary, errs *error) error {
	subs, err := s.billingRepo.ListPastDueBeyondGrace(ctx, now, s.limit)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list past_due subscriptions")
	}
	return s.expire(ctx, subs, "subscription.grace_lapsed", summary, errs)
}

func (s *service) sweepLapsedTrials(ctx context.Context, now time.Time, summary *Summary, errs *error) error {
	subs, err := s.billingRepo.ListLapsedTrials(ctx, now, s.limit)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list lapsed trials")
	}
	return s.expire(ctx, subs, "subscription.trial_lapsed", summary, errs)
}

func (s *service) expire(ctx context.Context, subs []models.Subscription, action string, summary *Summary, errs *error) error {
	for i := range subs {
		sub := &subs[i]
		summary.Checked++

		prevStatus := sub.Status
		sub.Status = enums.SubscriptionStatusExpired

		if err := s.persist(ctx, sub, action, map[string]any{
			"from": prevStatus,
			"to":   sub.Status,
		}); err != nil {
			summary.Errors++
			*errs = multierr.Append(*errs, err)
			continue
		}
		summary.Updated++
		s.recompute(ctx, sub)
	}
	return nil
}

func (s *service) persist(ctx context.Context, sub *models.Subscription, action string, detail map[string]any) error {
	payload, _ := json.Marshal(detail)
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		entry := &models.AuditLog{
			Action:     action,
			EntityType: "subscription",
			EntityID:   &sub.ID,
			Detail:     payload,
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write audit log")
		}
		return nil
	})
}

func (s *service) recompute(ctx context.Context, sub *models.Subscription) {
	if sub.UserID == nil {
		return
	}
	if err := s.access.RecomputeUser(ctx, *sub.UserID); err != nil {
		s.logg.Error(ctx, "recompute product access", err)
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
