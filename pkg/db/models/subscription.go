package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/pkg/enums"
)

// Subscription is the local record of a subscriber's plan membership. At most
// one live subscription may exist per (subscriber, plan) pair.
type Subscription struct {
	ID             uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriberType enums.SubscriberType `gorm:"type:varchar(16);not null;index:idx_subscriptions_subscriber,priority:1" json:"subscriber_type"`
	UserID         *uuid.UUID           `gorm:"type:uuid;index:idx_subscriptions_subscriber,priority:2" json:"user_id,omitempty"`
	ClinicID       *uuid.UUID           `gorm:"type:uuid;index" json:"clinic_id,omitempty"`
	PlanID         string               `gorm:"type:varchar(64);not null" json:"plan_id"`

	Status          enums.SubscriptionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	BillingInterval enums.BillingInterval    `gorm:"type:varchar(16);not null" json:"billing_interval"`

	PaymentProcessor        *enums.PaymentProcessor `gorm:"type:varchar(16);index:idx_subscriptions_processor,priority:1" json:"payment_processor,omitempty"`
	ProcessorSubscriptionID *string                 `gorm:"type:varchar(255);index:idx_subscriptions_processor,priority:2" json:"processor_subscription_id,omitempty"`
	ProcessorCustomerID     *string                 `gorm:"type:varchar(255)" json:"processor_customer_id,omitempty"`

	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"index" json:"current_period_end,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	GracePeriodEndsAt  *time.Time `gorm:"index" json:"grace_period_ends_at,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName overrides the gorm default.
func (Subscription) TableName() string {
	return "subscriptions"
}

// BeforeCreate assigns the primary key when the caller did not.
func (s *Subscription) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SubscriberID returns the owning entity id for audit and access purposes.
func (s *Subscription) SubscriberID() *uuid.UUID {
	if s.SubscriberType == enums.SubscriberTypeClinic {
		return s.ClinicID
	}
	return s.UserID
}

// InGracePeriod reports whether a past_due subscription is still within its
// grace window at the given instant.
func (s *Subscription) InGracePeriod(now time.Time) bool {
	if s.Status != enums.SubscriptionStatusPastDue || s.GracePeriodEndsAt == nil {
		return false
	}
	return now.Before(*s.GracePeriodEndsAt)
}
