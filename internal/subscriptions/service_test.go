package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/internal/billing"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type stubRepo struct {
	billing.Repository
	subs   []*models.Subscription
	audits []*models.AuditLog
}

func newStubRepo() *stubRepo {
	return &stubRepo{}
}

func (r *stubRepo) WithTx(tx *gorm.DB) billing.Repository { return r }

// seed stores subscriptions newest first, matching the repository ordering.
func (r *stubRepo) seed(subs ...*models.Subscription) {
	r.subs = append(r.subs, subs...)
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

func (r *stubRepo) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	for i := range r.subs {
		if r.subs[i].ID == sub.ID {
			r.subs[i] = sub
			return nil
		}
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *stubRepo) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	r.audits = append(r.audits, entry)
	return nil
}

type stubStripeClient struct {
	updates map[string]*stripe.SubscriptionParams
	err     error
}

func newStubStripeClient() *stubStripeClient {
	return &stubStripeClient{updates: map[string]*stripe.SubscriptionParams{}}
}

func (c *stubStripeClient) Get(_ context.Context, id string, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: id}, nil
}

func (c *stubStripeClient) Update(_ context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.updates[id] = params
	return &stripe.Subscription{ID: id}, nil
}

func (c *stubStripeClient) Cancel(_ context.Context, id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T, repo billing.Repository, client StripeSubscriptionClient) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		StripeClient:      client,
		TransactionRunner: passthroughTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func stripeSubscription(userID uuid.UUID) *models.Subscription {
	processor := enums.PaymentProcessorStripe
	procSubID := "sub_123"
	return &models.Subscription{
		ID:                      uuid.New(),
		SubscriberType:          enums.SubscriberTypeUser,
		UserID:                  &userID,
		PlanID:                  "pro",
		Status:                  enums.SubscriptionStatusActive,
		BillingInterval:         enums.BillingIntervalMonthly,
		PaymentProcessor:        &processor,
		ProcessorSubscriptionID: &procSubID,
	}
}

func TestCancelSchedulesStripeCancellation(t *testing.T) {
	repo := newStubRepo()
	client := newStubStripeClient()
	userID := uuid.New()
	repo.seed(stripeSubscription(userID))

	svc := newTestService(t, repo, client)

	got, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)

	assert.True(t, got.CancelAtPeriodEnd)
	assert.Nil(t, got.CanceledAt)
	// remains active until the processor reports the terminal transition
	assert.Equal(t, enums.SubscriptionStatusActive, got.Status)

	params, ok := client.updates["sub_123"]
	require.True(t, ok)
	require.NotNil(t, params.CancelAtPeriodEnd)
	assert.True(t, *params.CancelAtPeriodEnd)

	require.Len(t, repo.audits, 1)
	assert.Equal(t, "subscription.cancel", repo.audits[0].Action)
}

func TestCancelRequiresCardBilling(t *testing.T) {
	repo := newStubRepo()
	client := newStubStripeClient()
	userID := uuid.New()
	repo.seed(&models.Subscription{
		ID:              uuid.New(),
		SubscriberType:  enums.SubscriberTypeUser,
		UserID:          &userID,
		PlanID:          "free",
		Status:          enums.SubscriptionStatusActive,
		BillingInterval: enums.BillingIntervalFree,
	})

	svc := newTestService(t, repo, client)

	_, err := svc.Cancel(context.Background(), userID)
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeValidation, coded.Code())

	assert.Empty(t, client.updates)
	assert.Empty(t, repo.audits)
	assert.Equal(t, enums.SubscriptionStatusActive, repo.subs[0].Status)
}

func TestCancelSkipsDeadSubscriptions(t *testing.T) {
	repo := newStubRepo()
	client := newStubStripeClient()
	userID := uuid.New()
	dead := stripeSubscription(userID)
	dead.Status = enums.SubscriptionStatusCanceled
	live := stripeSubscription(userID)
	repo.seed(dead, live)

	svc := newTestService(t, repo, client)

	got, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}

func TestCancelWithoutLiveSubscription(t *testing.T) {
	repo := newStubRepo()
	userID := uuid.New()
	dead := stripeSubscription(userID)
	dead.Status = enums.SubscriptionStatusExpired
	repo.seed(dead)

	svc := newTestService(t, repo, newStubStripeClient())

	_, err := svc.Cancel(context.Background(), userID)
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeNotFound, coded.Code())
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	client := newStubStripeClient()
	userID := uuid.New()
	sub := stripeSubscription(userID)
	now := time.Now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	repo.seed(sub)

	svc := newTestService(t, repo, client)

	got, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Empty(t, client.updates)
	assert.Empty(t, repo.audits)
}

func TestReactivateClearsPendingCancellation(t *testing.T) {
	repo := newStubRepo()
	client := newStubStripeClient()
	userID := uuid.New()
	sub := stripeSubscription(userID)
	now := time.Now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	repo.seed(sub)

	svc := newTestService(t, repo, client)

	got, err := svc.Reactivate(context.Background(), userID)
	require.NoError(t, err)

	assert.False(t, got.CancelAtPeriodEnd)
	assert.Nil(t, got.CanceledAt)

	params, ok := client.updates["sub_123"]
	require.True(t, ok)
	require.NotNil(t, params.CancelAtPeriodEnd)
	assert.False(t, *params.CancelAtPeriodEnd)
}

func TestReactivateRequiresPendingCancellation(t *testing.T) {
	repo := newStubRepo()
	userID := uuid.New()
	repo.seed(stripeSubscription(userID))

	svc := newTestService(t, repo, newStubStripeClient())

	_, err := svc.Reactivate(context.Background(), userID)
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeConflict, coded.Code())
}

func TestReactivateRejectsDeadSubscription(t *testing.T) {
	repo := newStubRepo()
	userID := uuid.New()
	sub := stripeSubscription(userID)
	sub.Status = enums.SubscriptionStatusExpired
	sub.CancelAtPeriodEnd = true
	repo.seed(sub)

	svc := newTestService(t, repo, newStubStripeClient())

	_, err := svc.Reactivate(context.Background(), userID)
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeNotFound, coded.Code())
}
