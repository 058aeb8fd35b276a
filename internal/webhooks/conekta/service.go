// Package conektawebhook applies Conekta events to local billing state.
// Cash and bank-transfer payments arrive as one-off paid orders, so a paid
// order either starts a new subscription period or extends the current one.
// Recurring card charges set up through Conekta arrive as subscription.*
// events and follow the same lifecycle as their Stripe counterparts.
package conektawebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
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

// ServiceParams groups dependencies for the Conekta webhook service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	Access            access.Recomputer
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service processes verified Conekta events.
type Service struct {
	billingRepo billing.Repository
	access      access.Recomputer
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService validates dependencies and builds the service.
func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Access == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "access recomputer required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		access:      params.Access,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// HandleEvent routes a Conekta event to the matching mutation. Event types
// the platform does not track are acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "conekta event required")
	}

	switch strings.ToLower(event.Type) {
	case "order.paid":
		order, err := decodeOrder(event)
		if err != nil {
			return err
		}
		return s.handleOrderPaid(ctx, order)
	case "order.declined", "order.expired", "order.canceled":
		order, err := decodeOrder(event)
		if err != nil {
			return err
		}
		return s.handleOrderFailed(ctx, order, strings.ToLower(event.Type))
	case "subscription.paid":
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionPaid(ctx, sub)
	case "subscription.payment_failed":
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionPaymentFailed(ctx, sub)
	case "subscription.canceled":
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionCanceled(ctx, sub)
	default:
		return nil
	}
}

func decodeOrder(event *Event) (*Order, error) {
	if len(event.Data.Object) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order payload missing")
	}
	var order Order
	if err := json.Unmarshal(event.Data.Object, &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode order event")
	}
	if order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id missing")
	}
	return &order, nil
}

func decodeSubscription(event *Event) (*Subscription, error) {
	if len(event.Data.Object) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription payload missing")
	}
	var sub Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	if sub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return &sub, nil
}

// handleOrderPaid starts or extends the subscription the order pays for and
// records the paid invoice in the same transaction.
func (s *Service) handleOrderPaid(ctx context.Context, order *Order) error {
	ref, err := subscriptions.SubscriberFromMetadata(order.Metadata)
	if err != nil {
		// orders created outside checkout carry no subscriber metadata;
		// acknowledge so Conekta stops redelivering
		s.logg.Warn(ctx, "skipping conekta order without subscriber metadata")
		return nil
	}

	var touched *models.Subscription
	now := time.Now().UTC()

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		userID := ref.UserID
		sub, err := repo.FindLiveSubscription(ctx, billing.LiveSubscriptionQuery{
			SubscriberType: ref.SubscriberType(),
			UserID:         &userID,
			ClinicID:       ref.ClinicID,
			PlanID:         ref.PlanID,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}

		action := "subscription.extended"
		if sub == nil {
			processor := enums.PaymentProcessorConekta
			end := periodEnd(now, ref.Interval)
			sub = &models.Subscription{
				SubscriberType:      ref.SubscriberType(),
				UserID:              &userID,
				ClinicID:            ref.ClinicID,
				PlanID:              ref.PlanID,
				Status:              enums.SubscriptionStatusActive,
				BillingInterval:     ref.Interval,
				PaymentProcessor:    &processor,
				ProcessorCustomerID: trimmedPtr(order.CustomerInfo.CustomerID),
				CurrentPeriodStart:  &now,
				CurrentPeriodEnd:    &end,
			}
			if err := repo.CreateSubscription(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
			}
			action = "subscription.created"
		} else {
			start := now
			if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
				// prepaid before the current period lapsed, stack on top
				start = *sub.CurrentPeriodEnd
			}
			end := periodEnd(start, sub.BillingInterval)
			sub.Status = enums.SubscriptionStatusActive
			sub.GracePeriodEndsAt = nil
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend subscription")
			}
		}

		invoice := &models.Invoice{
			SubscriptionID:     sub.ID,
			UserID:             sub.UserID,
			ClinicID:           sub.ClinicID,
			PaymentProcessor:   enums.PaymentProcessorConekta,
			ProcessorInvoiceID: order.ID,
			Amount:             decimal.New(order.Amount, -2),
			Currency:           normalizeCurrency(order.Currency),
			Status:             enums.InvoiceStatusPaid,
			PaidAt:             &now,
		}
		if _, err := repo.UpsertInvoiceByProcessorRef(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record paid invoice")
		}

		touched = sub
		return s.audit(ctx, repo, sub, action)
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, touched)
	return nil
}

// handleOrderFailed records the failed attempt. A declined cash order never
// revokes a running subscription, so status is left alone.
func (s *Service) handleOrderFailed(ctx context.Context, order *Order, reason string) error {
	ref, err := subscriptions.SubscriberFromMetadata(order.Metadata)
	if err != nil {
		s.logg.Warn(ctx, "skipping conekta order without subscriber metadata")
		return nil
	}

	userID := ref.UserID
	sub, err := s.billingRepo.FindLiveSubscription(ctx, billing.LiveSubscriptionQuery{
		SubscriberType: ref.SubscriberType(),
		UserID:         &userID,
		ClinicID:       ref.ClinicID,
		PlanID:         ref.PlanID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		// nothing to attach the failure to
		return nil
	}

	invoice := &models.Invoice{
		SubscriptionID:     sub.ID,
		UserID:             sub.UserID,
		ClinicID:           sub.ClinicID,
		PaymentProcessor:   enums.PaymentProcessorConekta,
		ProcessorInvoiceID: order.ID,
		Amount:             decimal.New(order.Amount, -2),
		Currency:           normalizeCurrency(order.Currency),
		Status:             enums.InvoiceStatusFailed,
		FailureReason:      &reason,
	}
	if _, err := s.billingRepo.UpsertInvoiceByProcessorRef(ctx, invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failed invoice")
	}
	return nil
}

// handleSubscriptionPaid re-activates the local row for a recurring Conekta
// subscription charge and rolls the billing period forward.
func (s *Service) handleSubscriptionPaid(ctx context.Context, remote *Subscription) error {
	sub, err := s.resolveSubscription(ctx, remote)
	if err != nil || sub == nil {
		return err
	}

	now := time.Now().UTC()
	start := unixPtr(remote.BillingCycleStart)
	end := unixPtr(remote.BillingCycleEnd)
	if end == nil {
		e := periodEnd(now, sub.BillingInterval)
		end = &e
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		sub.Status = enums.SubscriptionStatusActive
		sub.GracePeriodEndsAt = nil
		if start != nil {
			sub.CurrentPeriodStart = start
		}
		sub.CurrentPeriodEnd = end
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend subscription")
		}
		return s.audit(ctx, repo, sub, "subscription.paid")
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, sub)
	return nil
}

// handleSubscriptionPaymentFailed marks the local row past_due and opens the
// grace window configured on its plan.
func (s *Service) handleSubscriptionPaymentFailed(ctx context.Context, remote *Subscription) error {
	sub, err := s.resolveSubscription(ctx, remote)
	if err != nil || sub == nil {
		return err
	}

	plan, err := s.billingRepo.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	graceDays := subscriptions.GraceDays(0)
	if plan != nil {
		graceDays = subscriptions.GraceDays(plan.GraceDays)
	}
	deadline := time.Now().UTC().AddDate(0, 0, graceDays)

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		sub.Status = enums.SubscriptionStatusPastDue
		sub.GracePeriodEndsAt = &deadline
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark subscription past_due")
		}
		return s.audit(ctx, repo, sub, "subscription.payment_failed")
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, sub)
	return nil
}

// handleSubscriptionCanceled ends the local row and stamps canceled_at.
func (s *Service) handleSubscriptionCanceled(ctx context.Context, remote *Subscription) error {
	sub, err := s.resolveSubscription(ctx, remote)
	if err != nil || sub == nil {
		return err
	}

	canceledAt := time.Now().UTC()
	if ts := unixPtr(remote.CanceledAt); ts != nil {
		canceledAt = *ts
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		sub.Status = enums.SubscriptionStatusCanceled
		sub.GracePeriodEndsAt = nil
		sub.CanceledAt = &canceledAt
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
		}
		return s.audit(ctx, repo, sub, "subscription.canceled")
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, sub)
	return nil
}

// resolveSubscription locates the local row a subscription.* event refers to,
// first by processor reference, then by the metadata checkout attached.
// Unknown references resolve to nil so replayed events for purged rows are
// acknowledged without effect.
func (s *Service) resolveSubscription(ctx context.Context, remote *Subscription) (*models.Subscription, error) {
	sub, err := s.billingRepo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorConekta, remote.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub != nil {
		return sub, nil
	}

	if len(remote.Metadata) == 0 {
		return nil, nil
	}
	ref, err := subscriptions.SubscriberFromMetadata(remote.Metadata)
	if err != nil {
		return nil, nil
	}
	userID := ref.UserID
	sub, err = s.billingRepo.FindLiveSubscription(ctx, billing.LiveSubscriptionQuery{
		SubscriberType: ref.SubscriberType(),
		UserID:         &userID,
		ClinicID:       ref.ClinicID,
		PlanID:         ref.PlanID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	return sub, nil
}

func (s *Service) recompute(ctx context.Context, sub *models.Subscription) {
	if sub == nil || sub.UserID == nil {
		return
	}
	if err := s.access.RecomputeUser(ctx, *sub.UserID); err != nil {
		s.logg.Error(ctx, "recompute product access", err)
	}
}

func (s *Service) audit(ctx context.Context, repo billing.Repository, sub *models.Subscription, action string) error {
	detail, _ := json.Marshal(map[string]any{"status": sub.Status})
	entry := &models.AuditLog{
		Action:     action,
		EntityType: "subscription",
		EntityID:   &sub.ID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.CreateAuditLog(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write audit log")
	}
	return nil
}

func unixPtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func periodEnd(start time.Time, interval enums.BillingInterval) time.Time {
	if interval == enums.BillingIntervalAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}

func normalizeCurrency(raw string) string {
	if raw == "" {
		return "MXN"
	}
	return strings.ToUpper(raw)
}
