package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records state transitions applied by webhook processing and
// reconciliation, keyed by the entity they touched.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Action     string     `gorm:"type:varchar(64);not null;index" json:"action"`
	EntityType string     `gorm:"type:varchar(64);not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   *uuid.UUID `gorm:"type:uuid;index:idx_audit_entity,priority:2" json:"entity_id,omitempty"`
	ActorID    *uuid.UUID `gorm:"type:uuid" json:"actor_id,omitempty"`
	Detail     []byte     `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

// TableName overrides the gorm default.
func (AuditLog) TableName() string {
	return "audit_log"
}

// BeforeCreate assigns the primary key when the caller did not.
func (a *AuditLog) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
