package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/deeplux/deeplux-backend/pkg/enums"
)

// Invoice records a settlement attempt reported by a processor. The
// (payment_processor, processor_invoice_id) pair is unique so replayed
// webhook deliveries cannot double-insert.
type Invoice struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID uuid.UUID  `gorm:"type:uuid;not null;index" json:"subscription_id"`
	UserID         *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ClinicID       *uuid.UUID `gorm:"type:uuid" json:"clinic_id,omitempty"`

	PaymentProcessor   enums.PaymentProcessor `gorm:"type:varchar(16);not null;uniqueIndex:uq_invoices_processor_ref,priority:1" json:"payment_processor"`
	ProcessorInvoiceID string                 `gorm:"type:varchar(255);not null;uniqueIndex:uq_invoices_processor_ref,priority:2" json:"processor_invoice_id"`

	Amount   decimal.Decimal     `gorm:"type:numeric(10,2);not null" json:"amount"`
	Currency string              `gorm:"type:varchar(3);not null;default:MXN" json:"currency"`
	Status   enums.InvoiceStatus `gorm:"type:varchar(16);not null" json:"status"`

	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FailureReason *string    `gorm:"type:text" json:"failure_reason,omitempty"`

	CFDIRequested bool    `gorm:"not null;default:false" json:"cfdi_requested"`
	CFDIUUID      *string `gorm:"type:varchar(64)" json:"cfdi_uuid,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName overrides the gorm default.
func (Invoice) TableName() string {
	return "invoices"
}

// BeforeCreate assigns the primary key when the caller did not.
func (i *Invoice) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
