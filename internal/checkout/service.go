// Package checkout starts new subscriptions: free plans activate locally,
// card plans go through Stripe hosted checkout, cash plans are not wired to
// Conekta order creation yet.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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

// Input captures a checkout request.
type Input struct {
	UserID    uuid.UUID
	Email     string
	ClinicID  *uuid.UUID
	PlanID    string
	Interval  enums.BillingInterval
	Processor enums.PaymentProcessor
}

// Result is what the caller needs to continue the flow. Free plans activate
// immediately and return the subscription; paid card plans return the hosted
// checkout URL instead.
type Result struct {
	Subscription *models.Subscription
	CheckoutURL  string
}

// Service starts subscriptions for every supported payment path.
type Service interface {
	Start(ctx context.Context, input Input) (*Result, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      StripeCheckoutClient
	Access            access.Recomputer
	TransactionRunner txRunner
	SiteURL           string
	Logger            *logger.Logger
}

type service struct {
	billingRepo billing.Repository
	stripe      StripeCheckoutClient
	access      access.Recomputer
	txRunner    txRunner
	siteURL     string
	logg        *logger.Logger
}

// NewService builds a checkout service with the required dependencies.
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
	if strings.TrimSpace(params.SiteURL) == "" {
		return nil, fmt.Errorf("site url required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		access:      params.Access,
		txRunner:    params.TransactionRunner,
		siteURL:     strings.TrimRight(params.SiteURL, "/"),
		logg:        params.Logger,
	}, nil
}

// Start validates the request and dispatches on the plan's payment path.
func (s *service) Start(ctx context.Context, input Input) (*Result, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.PlanID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}

	plan, err := s.billingRepo.FindPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil || !plan.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	subscriberType := enums.SubscriberTypeUser
	if input.ClinicID != nil {
		subscriberType = enums.SubscriberTypeClinic
	}

	userID := input.UserID
	gate := billing.LiveSubscriptionQuery{
		SubscriberType: subscriberType,
		UserID:         &userID,
		ClinicID:       input.ClinicID,
		PlanID:         plan.ID,
	}
	if plan.IsFree() {
		// the free tier is a fallback: any live subscription disqualifies it
		gate.PlanID = ""
	}
	existing, err := s.billingRepo.FindLiveSubscription(ctx, gate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing subscription")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an active subscription already exists")
	}

	if plan.IsFree() {
		return s.startFree(ctx, input, plan, subscriberType)
	}

	switch input.Processor {
	case enums.PaymentProcessorConekta:
		// cash and transfer checkout is driven from the client against
		// Conekta directly; order webhooks land the subscription
		return nil, pkgerrors.New(pkgerrors.CodeNotImplemented, "cash checkout is not available yet")
	case enums.PaymentProcessorStripe, "":
		return s.startStripe(ctx, input, plan)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment processor")
	}
}

// startFree activates the plan without touching any processor. Free plans
// never mix with processor state, so the subscription carries no processor
// fields at all.
func (s *service) startFree(ctx context.Context, input Input, plan *models.SubscriptionPlan, subscriberType enums.SubscriberType) (*Result, error) {
	userID := input.UserID
	sub := &models.Subscription{
		SubscriberType:  subscriberType,
		UserID:          &userID,
		ClinicID:        input.ClinicID,
		PlanID:          plan.ID,
		Status:          enums.SubscriptionStatusActive,
		BillingInterval: enums.BillingIntervalFree,
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create free subscription")
		}
		detail, _ := json.Marshal(map[string]any{"plan_id": plan.ID})
		entry := &models.AuditLog{
			Action:     "subscription.created",
			EntityType: "subscription",
			EntityID:   &sub.ID,
			ActorID:    &userID,
			Detail:     detail,
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write audit log")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.access.RecomputeUser(ctx, userID); err != nil {
		s.logg.Error(ctx, "recompute access after free checkout", err)
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "free plan activated")
	return &Result{Subscription: sub}, nil
}

// startStripe creates a customer and a hosted checkout session. The local
// subscription is created later by the webhook once Stripe confirms it.
func (s *service) startStripe(ctx context.Context, input Input, plan *models.SubscriptionPlan) (*Result, error) {
	interval := input.Interval
	if interval == "" {
		interval = enums.BillingIntervalMonthly
	}
	if interval == enums.BillingIntervalFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paid plans require a billing interval")
	}

	priceID := plan.StripePriceID(interval)
	if priceID == nil || *priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan has no price configured for this interval")
	}

	metadata := map[string]string{
		subscriptions.MetadataUserID:   input.UserID.String(),
		subscriptions.MetadataPlanID:   plan.ID,
		subscriptions.MetadataInterval: interval.String(),
	}
	if input.ClinicID != nil {
		metadata[subscriptions.MetadataClinicID] = input.ClinicID.String()
	}

	customerID, err := s.existingStripeCustomer(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		customerParams := &stripe.CustomerParams{
			Email: stripe.String(input.Email),
		}
		customerParams.Metadata = map[string]string{
			subscriptions.MetadataUserID: input.UserID.String(),
		}
		cust, err := s.stripe.CreateCustomer(ctx, customerParams)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
		}
		customerID = cust.ID
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(*priceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(s.siteURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.siteURL + "/billing/cancel"),
	}
	trialDays := subscriptions.TrialDays(plan.TrialDays)
	sessionParams.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(trialDays))

	sess, err := s.stripe.CreateSession(ctx, sessionParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	s.logg.Info(ctx, "stripe checkout session created")
	return &Result{CheckoutURL: sess.URL}, nil
}

// existingStripeCustomer returns the customer reference a previous card
// subscription already established for this user, so repeat checkouts do not
// spawn duplicate Stripe customers.
func (s *service) existingStripeCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	subs, err := s.billingRepo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	for i := range subs {
		sub := &subs[i]
		if sub.PaymentProcessor == nil || *sub.PaymentProcessor != enums.PaymentProcessorStripe {
			continue
		}
		if sub.ProcessorCustomerID != nil && *sub.ProcessorCustomerID != "" {
			return *sub.ProcessorCustomerID, nil
		}
	}
	return "", nil
}
