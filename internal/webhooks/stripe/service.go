// Package stripewebhook applies Stripe lifecycle events to local billing
// state. Events arrive pre-verified and pre-claimed by the controller layer.
package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
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

// ServiceParams groups dependencies for the Stripe webhook service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      subscriptions.StripeSubscriptionClient
	Access            access.Recomputer
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service processes verified Stripe events.
type Service struct {
	billingRepo billing.Repository
	stripe      subscriptions.StripeSubscriptionClient
	access      access.Recomputer
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService validates dependencies and builds the service.
func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
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
		stripe:      params.StripeClient,
		access:      params.Access,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// HandleEvent routes a Stripe event to the matching mutation. Event types the
// platform does not track are acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		_, err := s.syncSubscription(ctx, &stripeSub, nil)
		return err

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		// An end-of-period deletion the subscriber scheduled lands on
		// canceled; anything else (exhausted retries, remote deletion)
		// lands on expired.
		terminal := enums.SubscriptionStatusExpired
		if stripeSub.CancelAtPeriodEnd {
			terminal = enums.SubscriptionStatusCanceled
		}
		_, err := s.syncSubscription(ctx, &stripeSub, &terminal)
		return err

	case stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, event)

	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, event)

	case stripe.EventTypeCheckoutSessionCompleted:
		subscriptionID := subscriptionIDFromEvent(event)
		if subscriptionID == "" {
			// one-time payment sessions carry no subscription
			return nil
		}
		stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		_, err = s.syncSubscription(ctx, stripeSub, nil)
		return err

	default:
		return nil
	}
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var stripeInvoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &stripeInvoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}

	subscriptionID := subscriptionIDFromEvent(event)
	if subscriptionID == "" {
		// one-off invoices carry no subscription reference
		return nil
	}

	stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	sub, err := s.syncSubscription(ctx, stripeSub, nil)
	if err != nil || sub == nil {
		return err
	}

	now := time.Now().UTC()
	invoice := &models.Invoice{
		SubscriptionID:     sub.ID,
		UserID:             sub.UserID,
		ClinicID:           sub.ClinicID,
		PaymentProcessor:   enums.PaymentProcessorStripe,
		ProcessorInvoiceID: stripeInvoice.ID,
		Amount:             centsToDecimal(stripeInvoice.AmountPaid),
		Currency:           normalizeCurrency(string(stripeInvoice.Currency)),
		Status:             enums.InvoiceStatusPaid,
		PaidAt:             &now,
	}
	created, err := s.billingRepo.UpsertInvoiceByProcessorRef(ctx, invoice)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record paid invoice")
	}
	if !created {
		// a failure notice recorded this invoice before the retry settled;
		// payment is absolute state, flip it to paid
		stored, err := s.billingRepo.FindInvoiceByProcessorRef(ctx, enums.PaymentProcessorStripe, stripeInvoice.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
		}
		if stored != nil && stored.Status != enums.InvoiceStatusPaid {
			stored.Status = enums.InvoiceStatusPaid
			stored.PaidAt = &now
			stored.FailureReason = nil
			if err := s.billingRepo.UpdateInvoice(ctx, stored); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle invoice")
			}
		}
	}
	return nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var stripeInvoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &stripeInvoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}

	subscriptionID := subscriptionIDFromEvent(event)
	if subscriptionID == "" {
		// one-off invoices carry no subscription reference
		return nil
	}

	sub, err := s.billingRepo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorStripe, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		// replay for a purged row, acknowledge without effect
		return nil
	}

	settled, err := s.billingRepo.FindInvoiceByProcessorRef(ctx, enums.PaymentProcessorStripe, stripeInvoice.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	if settled != nil && settled.Status == enums.InvoiceStatusPaid {
		// out-of-order delivery: this invoice already settled
		return nil
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

	reason := "payment failed"
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		sub.Status = enums.SubscriptionStatusPastDue
		sub.GracePeriodEndsAt = &deadline
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark subscription past_due")
		}

		invoice := &models.Invoice{
			SubscriptionID:     sub.ID,
			UserID:             sub.UserID,
			ClinicID:           sub.ClinicID,
			PaymentProcessor:   enums.PaymentProcessorStripe,
			ProcessorInvoiceID: stripeInvoice.ID,
			Amount:             centsToDecimal(stripeInvoice.AmountDue),
			Currency:           normalizeCurrency(string(stripeInvoice.Currency)),
			Status:             enums.InvoiceStatusFailed,
			FailureReason:      &reason,
		}
		if _, err := repo.UpsertInvoiceByProcessorRef(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failed invoice")
		}

		return s.audit(ctx, repo, sub, "subscription.payment_failed")
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, sub)
	return nil
}

// syncSubscription creates or updates the local record from remote state and
// refreshes derived access afterwards. A non-nil terminal status overrides
// whatever the remote object reports and stamps canceled_at. Remote objects
// that cannot be attributed to a subscriber resolve to nil without error.
func (s *Service) syncSubscription(ctx context.Context, stripeSub *stripe.Subscription, terminal *enums.SubscriptionStatus) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	var synced *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorStripe, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}

		if stored == nil {
			built, buildErr := subscriptions.BuildSubscriptionFromStripe(stripeSub)
			if buildErr != nil {
				// remote objects created outside checkout carry no
				// subscriber metadata; nothing local to reconcile
				s.logg.Warn(ctx, "skipping stripe subscription without subscriber metadata")
				return nil
			}
			applyTerminal(built, terminal)
			if err := repo.CreateSubscription(ctx, built); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
			}
			synced = built
			return s.audit(ctx, repo, built, "subscription.created")
		}

		if err := subscriptions.UpdateSubscriptionFromStripe(stored, stripeSub); err != nil {
			return err
		}
		applyTerminal(stored, terminal)
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		synced = stored
		return s.audit(ctx, repo, stored, "subscription.updated")
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, synced)
	return synced, nil
}

func applyTerminal(sub *models.Subscription, terminal *enums.SubscriptionStatus) {
	if terminal == nil {
		return
	}
	sub.Status = *terminal
	sub.GracePeriodEndsAt = nil
	if sub.CanceledAt == nil {
		now := time.Now().UTC()
		sub.CanceledAt = &now
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

func (s *Service) recompute(ctx context.Context, sub *models.Subscription) {
	if sub == nil || sub.UserID == nil {
		return
	}
	if err := s.access.RecomputeUser(ctx, *sub.UserID); err != nil {
		s.logg.Error(ctx, "recompute product access", err)
	}
}

// subscriptionIDFromEvent digs the subscription reference out of the event
// payload. Invoice payloads have moved the field across API versions, so both
// locations are consulted.
func subscriptionIDFromEvent(event *stripe.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	var probe struct {
		Parent struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(event.Data.Raw, &probe); err == nil {
		return probe.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func normalizeCurrency(raw string) string {
	if raw == "" {
		return "MXN"
	}
	return strings.ToUpper(raw)
}
