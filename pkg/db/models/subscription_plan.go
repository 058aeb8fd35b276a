package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/deeplux/deeplux-backend/pkg/enums"
)

// SubscriptionPlan is a purchasable plan in the catalog. IDs are stable
// human-readable slugs rather than surrogate keys so processor metadata can
// carry them verbatim.
type SubscriptionPlan struct {
	ID       string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name     string         `gorm:"type:varchar(128);not null" json:"name"`
	PlanType enums.PlanType `gorm:"type:varchar(16);not null" json:"plan_type"`

	PriceMonthly decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price_monthly"`
	PriceAnnual  decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price_annual"`
	Currency     string          `gorm:"type:varchar(3);not null;default:MXN" json:"currency"`

	StripePriceMonthlyID *string `gorm:"type:varchar(255)" json:"stripe_price_monthly_id,omitempty"`
	StripePriceAnnualID  *string `gorm:"type:varchar(255)" json:"stripe_price_annual_id,omitempty"`

	ProductCodes pq.StringArray `gorm:"type:text[];not null" json:"product_codes"`
	Features     pq.StringArray `gorm:"type:text[]" json:"features"`

	TrialDays int  `gorm:"not null;default:0" json:"trial_days"`
	GraceDays int  `gorm:"column:grace_period_days;not null;default:3" json:"grace_period_days"`
	MaxSeats  *int `json:"max_seats,omitempty"`
	Active    bool `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName overrides the gorm default.
func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

// IsFree reports whether the plan carries no charge on any interval.
func (p *SubscriptionPlan) IsFree() bool {
	return p.PriceMonthly.IsZero() && p.PriceAnnual.IsZero()
}

// StripePriceID resolves the configured price for the given interval.
func (p *SubscriptionPlan) StripePriceID(interval enums.BillingInterval) *string {
	if interval == enums.BillingIntervalAnnual {
		return p.StripePriceAnnualID
	}
	return p.StripePriceMonthlyID
}
