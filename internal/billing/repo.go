package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
)

// Repository handles billing persistence for subscriptions, invoices, plans,
// the webhook event ledger and the audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByProcessorID(ctx context.Context, processor enums.PaymentProcessor, processorSubscriptionID string) (*models.Subscription, error)
	FindLiveSubscription(ctx context.Context, query LiveSubscriptionQuery) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListLiveProcessorSubscriptions(ctx context.Context, processor enums.PaymentProcessor, limit int) ([]models.Subscription, error)
	ListPastDueBeyondGrace(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	ListLapsedTrials(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)

	UpsertInvoiceByProcessorRef(ctx context.Context, invoice *models.Invoice) (bool, error)
	UpdateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByProcessorRef(ctx context.Context, processor enums.PaymentProcessor, processorInvoiceID string) (*models.Invoice, error)
	ListInvoicesBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Invoice, error)

	FindPlanByID(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error)

	FindWebhookEvent(ctx context.Context, processor enums.PaymentProcessor, eventID string) (*models.WebhookEvent, error)
	CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// LiveSubscriptionQuery locates the newest live subscription a subscriber
// holds. An empty PlanID matches any plan; ClinicID is consulted only for
// clinic subscribers.
type LiveSubscriptionQuery struct {
	SubscriberType enums.SubscriberType
	UserID         *uuid.UUID
	ClinicID       *uuid.UUID
	PlanID         string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByProcessorID(ctx context.Context, processor enums.PaymentProcessor, processorSubscriptionID string) (*models.Subscription, error) {
	if processorSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("payment_processor = ? AND processor_subscription_id = ?", processor, processorSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindLiveSubscription(ctx context.Context, query LiveSubscriptionQuery) (*models.Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("subscriber_type = ?", query.SubscriberType).
		Where("status IN (?)", enums.LiveSubscriptionStatuses)
	if query.PlanID != "" {
		q = q.Where("plan_id = ?", query.PlanID)
	}
	if query.SubscriberType == enums.SubscriberTypeClinic {
		q = q.Where("clinic_id = ?", query.ClinicID)
	} else {
		q = q.Where("user_id = ?", query.UserID)
	}

	var sub models.Subscription
	if err := q.Order("created_at DESC").First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListLiveProcessorSubscriptions(ctx context.Context, processor enums.PaymentProcessor, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("payment_processor = ?", processor).
		Where("processor_subscription_id IS NOT NULL AND processor_subscription_id <> ''").
		Where("status IN (?)", enums.LiveSubscriptionStatuses).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPastDueBeyondGrace(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusPastDue).
		Where("grace_period_ends_at IS NOT NULL AND grace_period_ends_at < ?", asOf).
		Order("grace_period_ends_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListLapsedTrials(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusTrialing).
		Where("trial_end IS NOT NULL AND trial_end < ?", asOf).
		Where("processor_subscription_id IS NULL OR processor_subscription_id = ''").
		Where("billing_interval <> ?", enums.BillingIntervalFree).
		Order("trial_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpsertInvoiceByProcessorRef inserts the invoice unless one already exists
// for the same processor reference. Returns true when a row was inserted.
func (r *repository) UpsertInvoiceByProcessorRef(ctx context.Context, invoice *models.Invoice) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_processor"}, {Name: "processor_invoice_id"}},
			DoNothing: true,
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Save(invoice).Error
}

func (r *repository) FindInvoiceByProcessorRef(ctx context.Context, processor enums.PaymentProcessor, processorInvoiceID string) (*models.Invoice, error) {
	if processorInvoiceID == "" {
		return nil, nil
	}
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("payment_processor = ? AND processor_invoice_id = ?", processor, processorInvoiceID).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListInvoicesBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("price_monthly ASC, id ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindWebhookEvent(ctx context.Context, processor enums.PaymentProcessor, eventID string) (*models.WebhookEvent, error) {
	if eventID == "" {
		return nil, nil
	}
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("processor = ? AND event_id = ?", processor, eventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
