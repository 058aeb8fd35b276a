package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/internal/billing"
	"github.com/deeplux/deeplux-backend/internal/subscriptions"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

func pkgErr(t *testing.T, err error) pkgerrors.Code {
	t.Helper()
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	return coded.Code()
}

type stubRepo struct {
	billing.Repository
	plans  map[string]*models.SubscriptionPlan
	subs   []*models.Subscription
	audits []*models.AuditLog
}

func newStubRepo() *stubRepo {
	return &stubRepo{plans: map[string]*models.SubscriptionPlan{}}
}

func (r *stubRepo) WithTx(tx *gorm.DB) billing.Repository { return r }

func (r *stubRepo) FindPlanByID(_ context.Context, id string) (*models.SubscriptionPlan, error) {
	return r.plans[id], nil
}

func (r *stubRepo) FindLiveSubscription(_ context.Context, query billing.LiveSubscriptionQuery) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if !sub.Status.IsLive() || (query.PlanID != "" && sub.PlanID != query.PlanID) {
			continue
		}
		if sub.UserID != nil && query.UserID != nil && *sub.UserID == *query.UserID {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) ListSubscriptionsByUser(_ context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.UserID != nil && *sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *stubRepo) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *stubRepo) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	r.audits = append(r.audits, entry)
	return nil
}

type stubStripeClient struct {
	sessionParams *stripe.CheckoutSessionParams
	customers     []*stripe.CustomerParams
}

func (c *stubStripeClient) CreateCustomer(_ context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	c.customers = append(c.customers, params)
	return &stripe.Customer{ID: "cus_new"}, nil
}

func (c *stubStripeClient) CreateSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	c.sessionParams = params
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/pay/cs_test"}, nil
}

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type countingRecomputer struct {
	users []uuid.UUID
}

func (c *countingRecomputer) RecomputeUser(_ context.Context, userID uuid.UUID) error {
	c.users = append(c.users, userID)
	return nil
}

func freePlan() *models.SubscriptionPlan {
	return &models.SubscriptionPlan{
		ID:       "free",
		Name:     "Free",
		PlanType: enums.PlanTypeIndividual,
		Active:   true,
	}
}

func proPlan() *models.SubscriptionPlan {
	monthly := "price_monthly"
	annual := "price_annual"
	return &models.SubscriptionPlan{
		ID:                   "pro",
		Name:                 "Pro",
		PlanType:             enums.PlanTypeIndividual,
		PriceMonthly:         decimal.NewFromInt(499),
		PriceAnnual:          decimal.NewFromInt(4990),
		StripePriceMonthlyID: &monthly,
		StripePriceAnnualID:  &annual,
		TrialDays:            7,
		Active:               true,
	}
}

func newTestService(t *testing.T, repo *stubRepo, client *stubStripeClient, rec *countingRecomputer) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		StripeClient:      client,
		Access:            rec,
		TransactionRunner: passthroughTxRunner{},
		SiteURL:           "https://app.deeplux.mx/",
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func TestStartFreePlanActivatesImmediately(t *testing.T) {
	repo := newStubRepo()
	repo.plans["free"] = freePlan()
	rec := &countingRecomputer{}
	svc := newTestService(t, repo, &stubStripeClient{}, rec)
	userID := uuid.New()

	result, err := svc.Start(context.Background(), Input{UserID: userID, PlanID: "free"})
	require.NoError(t, err)

	require.NotNil(t, result.Subscription)
	assert.Empty(t, result.CheckoutURL)
	assert.Equal(t, enums.SubscriptionStatusActive, result.Subscription.Status)
	assert.Equal(t, enums.BillingIntervalFree, result.Subscription.BillingInterval)
	assert.Nil(t, result.Subscription.PaymentProcessor)
	assert.Equal(t, []uuid.UUID{userID}, rec.users)
	require.Len(t, repo.audits, 1)
}

func TestStartFreePlanRejectsDuplicate(t *testing.T) {
	repo := newStubRepo()
	repo.plans["free"] = freePlan()
	svc := newTestService(t, repo, &stubStripeClient{}, &countingRecomputer{})
	userID := uuid.New()

	_, err := svc.Start(context.Background(), Input{UserID: userID, PlanID: "free"})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), Input{UserID: userID, PlanID: "free"})
	require.Error(t, err)
	coded := pkgErr(t, err)
	assert.Equal(t, "CONFLICT", string(coded))
}

func TestStartFreePlanRejectedWhileAnotherPlanIsLive(t *testing.T) {
	repo := newStubRepo()
	repo.plans["free"] = freePlan()
	svc := newTestService(t, repo, &stubStripeClient{}, &countingRecomputer{})
	userID := uuid.New()

	processor := enums.PaymentProcessorStripe
	repo.subs = append(repo.subs, &models.Subscription{
		ID:               uuid.New(),
		SubscriberType:   enums.SubscriberTypeUser,
		UserID:           &userID,
		PlanID:           "pro",
		Status:           enums.SubscriptionStatusActive,
		BillingInterval:  enums.BillingIntervalMonthly,
		PaymentProcessor: &processor,
	})

	_, err := svc.Start(context.Background(), Input{UserID: userID, PlanID: "free"})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", string(pkgErr(t, err)))
	require.Len(t, repo.subs, 1)
}

func TestStartStripeCreatesSessionWithMetadata(t *testing.T) {
	repo := newStubRepo()
	repo.plans["pro"] = proPlan()
	client := &stubStripeClient{}
	svc := newTestService(t, repo, client, &countingRecomputer{})
	userID := uuid.New()

	result, err := svc.Start(context.Background(), Input{
		UserID:   userID,
		Email:    "dr@example.com",
		PlanID:   "pro",
		Interval: enums.BillingIntervalAnnual,
	})
	require.NoError(t, err)

	assert.Nil(t, result.Subscription)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test", result.CheckoutURL)
	// no local record until the webhook confirms
	assert.Empty(t, repo.subs)

	require.Len(t, client.customers, 1)
	params := client.sessionParams
	require.NotNil(t, params)
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, "price_annual", *params.LineItems[0].Price)
	require.NotNil(t, params.SubscriptionData)
	assert.Equal(t, userID.String(), params.SubscriptionData.Metadata[subscriptions.MetadataUserID])
	assert.Equal(t, "pro", params.SubscriptionData.Metadata[subscriptions.MetadataPlanID])
	assert.Equal(t, "annual", params.SubscriptionData.Metadata[subscriptions.MetadataInterval])
	require.NotNil(t, params.SubscriptionData.TrialPeriodDays)
	assert.EqualValues(t, 7, *params.SubscriptionData.TrialPeriodDays)
	assert.Contains(t, *params.SuccessURL, "https://app.deeplux.mx/billing/success")
}

func TestStartStripeReusesExistingCustomer(t *testing.T) {
	repo := newStubRepo()
	repo.plans["pro"] = proPlan()
	client := &stubStripeClient{}
	svc := newTestService(t, repo, client, &countingRecomputer{})
	userID := uuid.New()

	processor := enums.PaymentProcessorStripe
	custID := "cus_prior"
	repo.subs = append(repo.subs, &models.Subscription{
		ID:                  uuid.New(),
		SubscriberType:      enums.SubscriberTypeUser,
		UserID:              &userID,
		PlanID:              "basic",
		Status:              enums.SubscriptionStatusCanceled,
		BillingInterval:     enums.BillingIntervalMonthly,
		PaymentProcessor:    &processor,
		ProcessorCustomerID: &custID,
	})

	_, err := svc.Start(context.Background(), Input{
		UserID: userID,
		Email:  "dr@example.com",
		PlanID: "pro",
	})
	require.NoError(t, err)

	assert.Empty(t, client.customers)
	require.NotNil(t, client.sessionParams.Customer)
	assert.Equal(t, "cus_prior", *client.sessionParams.Customer)
}

func TestStartStripeDefaultsToMonthly(t *testing.T) {
	repo := newStubRepo()
	repo.plans["pro"] = proPlan()
	client := &stubStripeClient{}
	svc := newTestService(t, repo, client, &countingRecomputer{})

	_, err := svc.Start(context.Background(), Input{UserID: uuid.New(), PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "price_monthly", *client.sessionParams.LineItems[0].Price)
}

func TestStartConektaNotAvailable(t *testing.T) {
	repo := newStubRepo()
	repo.plans["pro"] = proPlan()
	svc := newTestService(t, repo, &stubStripeClient{}, &countingRecomputer{})

	_, err := svc.Start(context.Background(), Input{
		UserID:    uuid.New(),
		PlanID:    "pro",
		Processor: enums.PaymentProcessorConekta,
	})
	require.Error(t, err)
	assert.Equal(t, "NOT_IMPLEMENTED", string(pkgErr(t, err)))
}

func TestStartUnknownPlan(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, &stubStripeClient{}, &countingRecomputer{})

	_, err := svc.Start(context.Background(), Input{UserID: uuid.New(), PlanID: "missing"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", string(pkgErr(t, err)))
}

func TestStartInactivePlan(t *testing.T) {
	repo := newStubRepo()
	plan := proPlan()
	plan.Active = false
	repo.plans["pro"] = plan
	svc := newTestService(t, repo, &stubStripeClient{}, &countingRecomputer{})

	_, err := svc.Start(context.Background(), Input{UserID: uuid.New(), PlanID: "pro"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", string(pkgErr(t, err)))
}
