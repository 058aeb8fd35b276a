package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/pkg/enums"
)

// WebhookEvent is the idempotency ledger for inbound processor events. The
// (processor, event_id) pair is unique; a redelivered event lands on the
// existing row and is skipped when already processed.
type WebhookEvent struct {
	ID        uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	Processor enums.PaymentProcessor `gorm:"type:varchar(16);not null;uniqueIndex:uq_webhook_events_ref,priority:1" json:"processor"`
	EventID   string                 `gorm:"type:varchar(255);not null;uniqueIndex:uq_webhook_events_ref,priority:2" json:"event_id"`
	EventType string                 `gorm:"type:varchar(128);not null" json:"event_type"`

	Status enums.WebhookEventStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Error  *string                  `gorm:"type:text" json:"error,omitempty"`

	Payload []byte `gorm:"type:jsonb" json:"payload,omitempty"`

	ReceivedAt  time.Time  `gorm:"not null" json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName overrides the gorm default.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// BeforeCreate assigns the primary key when the caller did not.
func (w *WebhookEvent) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.ReceivedAt.IsZero() {
		w.ReceivedAt = time.Now().UTC()
	}
	return nil
}
