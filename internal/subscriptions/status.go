package subscriptions

import (
	"strings"

	"github.com/deeplux/deeplux-backend/pkg/enums"
)

const (
	defaultGraceDays = 3
	defaultTrialDays = 14
)

// GraceDays resolves the past_due grace window, falling back to the platform
// default when the plan does not define one.
func GraceDays(planGraceDays int) int {
	if planGraceDays > 0 {
		return planGraceDays
	}
	return defaultGraceDays
}

// TrialDays resolves the trial length for a plan, falling back to the
// platform default when the plan does not define one.
func TrialDays(planTrialDays int) int {
	if planTrialDays > 0 {
		return planTrialDays
	}
	return defaultTrialDays
}

// MapStripeStatus translates a Stripe subscription status into the canonical
// local state. Statuses Stripe may add in the future deliberately land on
// expired so access is never granted on unknown input.
func MapStripeStatus(raw string) enums.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return enums.SubscriptionStatusActive
	case "trialing":
		return enums.SubscriptionStatusTrialing
	case "past_due", "unpaid", "paused":
		return enums.SubscriptionStatusPastDue
	case "canceled":
		return enums.SubscriptionStatusCanceled
	case "incomplete":
		return enums.SubscriptionStatusIncomplete
	case "incomplete_expired":
		return enums.SubscriptionStatusExpired
	default:
		return enums.SubscriptionStatusExpired
	}
}
