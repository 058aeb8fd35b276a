// Package access recomputes derived product entitlements after subscription
// state changes. The heavy lifting lives in a database function so the web
// and worker processes stay consistent.
package access

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
)

// Recomputer refreshes the product access rows derived from subscriptions.
type Recomputer interface {
	RecomputeUser(ctx context.Context, userID uuid.UUID) error
}

type sqlRecomputer struct {
	db *gorm.DB
}

// NewRecomputer returns a Recomputer backed by the recompute_user_product_access
// database function.
func NewRecomputer(db *gorm.DB) Recomputer {
	return &sqlRecomputer{db: db}
}

func (r *sqlRecomputer) RecomputeUser(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := r.db.WithContext(ctx).
		Exec("SELECT recompute_user_product_access(?)", userID).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recompute product access")
	}
	return nil
}
