package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	plans := `
CREATE TABLE IF NOT EXISTS subscription_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  plan_type TEXT NOT NULL,
  price_monthly TEXT NOT NULL DEFAULT '0',
  price_annual TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT 'MXN',
  stripe_price_monthly_id TEXT,
  stripe_price_annual_id TEXT,
  product_codes TEXT NOT NULL DEFAULT '{}',
  features TEXT,
  trial_days INTEGER NOT NULL DEFAULT 0,
  grace_period_days INTEGER NOT NULL DEFAULT 3,
  max_seats INTEGER,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  subscriber_type TEXT NOT NULL,
  user_id TEXT,
  clinic_id TEXT,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL,
  billing_interval TEXT NOT NULL,
  payment_processor TEXT,
  processor_subscription_id TEXT,
  processor_customer_id TEXT,
  current_period_start DATETIME,
  current_period_end DATETIME,
  trial_end DATETIME,
  grace_period_ends_at DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	invoices := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  user_id TEXT,
  clinic_id TEXT,
  payment_processor TEXT NOT NULL,
  processor_invoice_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'MXN',
  status TEXT NOT NULL,
  paid_at DATETIME,
  failure_reason TEXT,
  cfdi_requested INTEGER NOT NULL DEFAULT 0,
  cfdi_uuid TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (payment_processor, processor_invoice_id)
);`
	webhookEvents := `
CREATE TABLE IF NOT EXISTS webhook_events (
  id TEXT PRIMARY KEY,
  processor TEXT NOT NULL,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT,
  payload BLOB,
  received_at DATETIME,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (processor, event_id)
);`
	auditLog := `
CREATE TABLE IF NOT EXISTS audit_log (
  id TEXT PRIMARY KEY,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT,
  actor_id TEXT,
  detail BLOB,
  created_at DATETIME
);`

	for _, stmt := range []string{plans, subscriptions, invoices, webhookEvents, auditLog} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedSubscription(t *testing.T, repo Repository, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()

	userID := uuid.New()
	processor := enums.PaymentProcessorStripe
	procSubID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)

	sub := &models.Subscription{
		SubscriberType:          enums.SubscriberTypeUser,
		UserID:                  &userID,
		PlanID:                  "pro",
		Status:                  enums.SubscriptionStatusActive,
		BillingInterval:         enums.BillingIntervalMonthly,
		PaymentProcessor:        &processor,
		ProcessorSubscriptionID: &procSubID,
		CurrentPeriodStart:      &now,
		CurrentPeriodEnd:        &end,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, repo.CreateSubscription(context.Background(), sub))
	return sub
}

func TestFindSubscriptionByProcessorID(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	sub := seedSubscription(t, repo, nil)

	found, err := repo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorStripe, *sub.ProcessorSubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID, found.ID)

	missing, err := repo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorStripe, "sub_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := repo.FindSubscriptionByProcessorID(ctx, enums.PaymentProcessorStripe, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFindLiveSubscriptionScopedToSubscriber(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	sub := seedSubscription(t, repo, nil)
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusCanceled
	})

	found, err := repo.FindLiveSubscription(ctx, LiveSubscriptionQuery{
		SubscriberType: enums.SubscriberTypeUser,
		UserID:         sub.UserID,
		PlanID:         "pro",
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID, found.ID)

	otherUser := uuid.New()
	none, err := repo.FindLiveSubscription(ctx, LiveSubscriptionQuery{
		SubscriberType: enums.SubscriberTypeUser,
		UserID:         &otherUser,
		PlanID:         "pro",
	})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFindLiveSubscriptionAnyPlan(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	sub := seedSubscription(t, repo, func(s *models.Subscription) {
		s.PlanID = "clinic-pro"
	})

	found, err := repo.FindLiveSubscription(ctx, LiveSubscriptionQuery{
		SubscriberType: enums.SubscriberTypeUser,
		UserID:         sub.UserID,
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID, found.ID)
}

func TestFindLiveSubscriptionIgnoresDeadStates(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	sub := seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusExpired
	})

	found, err := repo.FindLiveSubscription(ctx, LiveSubscriptionQuery{
		SubscriberType: enums.SubscriberTypeUser,
		UserID:         sub.UserID,
		PlanID:         "pro",
	})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListPastDueBeyondGrace(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	// grace window lapsed two days ago
	lapsed := seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusPastDue
		deadline := now.Add(-48 * time.Hour)
		s.GracePeriodEndsAt = &deadline
	})
	// still inside grace
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusPastDue
		deadline := now.Add(24 * time.Hour)
		s.GracePeriodEndsAt = &deadline
	})
	// past_due without a recorded deadline is left for the drift sweep
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusPastDue
	})
	// active is never returned
	seedSubscription(t, repo, nil)

	subs, err := repo.ListPastDueBeyondGrace(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, lapsed.ID, subs[0].ID)
}

func TestListLapsedTrials(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	lapsed := seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusTrialing
		trialEnd := now.Add(-48 * time.Hour)
		s.TrialEnd = &trialEnd
		s.ProcessorSubscriptionID = nil
		s.PaymentProcessor = nil
	})
	// trial backed by a processor subscription is reconciled remotely instead
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusTrialing
		trialEnd := now.Add(-48 * time.Hour)
		s.TrialEnd = &trialEnd
	})
	// still trialing
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusTrialing
		trialEnd := now.Add(72 * time.Hour)
		s.TrialEnd = &trialEnd
		s.ProcessorSubscriptionID = nil
		s.PaymentProcessor = nil
	})
	// the free tier never lapses
	seedSubscription(t, repo, func(s *models.Subscription) {
		s.Status = enums.SubscriptionStatusTrialing
		trialEnd := now.Add(-48 * time.Hour)
		s.TrialEnd = &trialEnd
		s.ProcessorSubscriptionID = nil
		s.PaymentProcessor = nil
		s.BillingInterval = enums.BillingIntervalFree
	})

	subs, err := repo.ListLapsedTrials(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, lapsed.ID, subs[0].ID)
}

func TestUpsertInvoiceByProcessorRefDedupes(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	sub := seedSubscription(t, repo, nil)

	invoice := &models.Invoice{
		SubscriptionID:     sub.ID,
		UserID:             sub.UserID,
		PaymentProcessor:   enums.PaymentProcessorStripe,
		ProcessorInvoiceID: "in_123",
		Amount:             decimal.NewFromInt(499),
		Currency:           "MXN",
		Status:             enums.InvoiceStatusPaid,
	}
	inserted, err := repo.UpsertInvoiceByProcessorRef(ctx, invoice)
	require.NoError(t, err)
	assert.True(t, inserted)

	replay := &models.Invoice{
		SubscriptionID:     sub.ID,
		UserID:             sub.UserID,
		PaymentProcessor:   enums.PaymentProcessorStripe,
		ProcessorInvoiceID: "in_123",
		Amount:             decimal.NewFromInt(499),
		Currency:           "MXN",
		Status:             enums.InvoiceStatusPaid,
	}
	inserted, err = repo.UpsertInvoiceByProcessorRef(ctx, replay)
	require.NoError(t, err)
	assert.False(t, inserted)

	invoices, err := repo.ListInvoicesBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestWebhookEventLedgerRoundTrip(t *testing.T) {
	repo := NewRepository(setupBillingTestDB(t))
	ctx := context.Background()

	missing, err := repo.FindWebhookEvent(ctx, enums.PaymentProcessorStripe, "evt_1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	event := &models.WebhookEvent{
		Processor: enums.PaymentProcessorStripe,
		EventID:   "evt_1",
		EventType: "invoice.paid",
		Status:    enums.WebhookEventStatusProcessing,
	}
	require.NoError(t, repo.CreateWebhookEvent(ctx, event))

	found, err := repo.FindWebhookEvent(ctx, enums.PaymentProcessorStripe, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.WebhookEventStatusProcessing, found.Status)

	now := time.Now().UTC()
	found.Status = enums.WebhookEventStatusProcessed
	found.ProcessedAt = &now
	require.NoError(t, repo.UpdateWebhookEvent(ctx, found))

	updated, err := repo.FindWebhookEvent(ctx, enums.PaymentProcessorStripe, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.WebhookEventStatusProcessed, updated.Status)
	assert.NotNil(t, updated.ProcessedAt)
}
