package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
)

// Metadata keys attached to processor objects at checkout time so webhook
// processing can route events back to local records.
const (
	MetadataUserID   = "user_id"
	MetadataClinicID = "clinic_id"
	MetadataPlanID   = "plan_id"
	MetadataInterval = "interval"
)

// SubscriberRef identifies the local owner extracted from processor metadata.
type SubscriberRef struct {
	UserID   uuid.UUID
	ClinicID *uuid.UUID
	PlanID   string
	Interval enums.BillingInterval
}

// SubscriberType reports whether the reference belongs to a clinic or a user.
func (r SubscriberRef) SubscriberType() enums.SubscriberType {
	if r.ClinicID != nil {
		return enums.SubscriberTypeClinic
	}
	return enums.SubscriberTypeUser
}

// SubscriberFromMetadata extracts the local subscriber reference that checkout
// attached to the processor subscription.
func SubscriberFromMetadata(metadata map[string]string) (SubscriberRef, error) {
	if metadata == nil {
		return SubscriberRef{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}

	rawUser := strings.TrimSpace(metadata[MetadataUserID])
	if rawUser == "" {
		return SubscriberRef{}, pkgerrors.New(pkgerrors.CodeValidation, "user_id missing from metadata")
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return SubscriberRef{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}

	planID := strings.TrimSpace(metadata[MetadataPlanID])
	if planID == "" {
		return SubscriberRef{}, pkgerrors.New(pkgerrors.CodeValidation, "plan_id missing from metadata")
	}

	ref := SubscriberRef{UserID: userID, PlanID: planID}

	if rawClinic := strings.TrimSpace(metadata[MetadataClinicID]); rawClinic != "" {
		clinicID, err := uuid.Parse(rawClinic)
		if err != nil {
			return SubscriberRef{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid clinic_id metadata")
		}
		ref.ClinicID = &clinicID
	}

	ref.Interval = enums.BillingIntervalMonthly
	if rawInterval := strings.TrimSpace(metadata[MetadataInterval]); rawInterval != "" {
		interval, err := enums.ParseBillingInterval(rawInterval)
		if err != nil {
			return SubscriberRef{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid interval metadata")
		}
		ref.Interval = interval
	}

	return ref, nil
}

// BuildSubscriptionFromStripe maps a Stripe subscription into the canonical model.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	ref, err := SubscriberFromMetadata(stripeSub.Metadata)
	if err != nil {
		return nil, err
	}

	processor := enums.PaymentProcessorStripe
	procSubID := stripeSub.ID
	userID := ref.UserID
	startTS, endTS := periodFromStripe(stripeSub)

	sub := &models.Subscription{
		SubscriberType:          ref.SubscriberType(),
		UserID:                  &userID,
		ClinicID:                ref.ClinicID,
		PlanID:                  ref.PlanID,
		Status:                  MapStripeStatus(string(stripeSub.Status)),
		BillingInterval:         ref.Interval,
		PaymentProcessor:        &processor,
		ProcessorSubscriptionID: &procSubID,
		ProcessorCustomerID:     customerIDFromStripe(stripeSub),
		CurrentPeriodStart:      toTimePtr(startTS),
		CurrentPeriodEnd:        toTimePtr(endTS),
		TrialEnd:                toTimePtr(stripeSub.TrialEnd),
		CancelAtPeriodEnd:       stripeSub.CancelAtPeriodEnd,
		CanceledAt:              toTimePtr(stripeSub.CanceledAt),
	}
	return sub, nil
}

// UpdateSubscriptionFromStripe mutates the provided subscription with fresh
// Stripe data. The local subscriber identity is never changed by remote state.
func UpdateSubscriptionFromStripe(target *models.Subscription, stripeSub *stripe.Subscription) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	target.Status = MapStripeStatus(string(stripeSub.Status))
	if target.Status != enums.SubscriptionStatusPastDue {
		target.GracePeriodEndsAt = nil
	}
	startTS, endTS := periodFromStripe(stripeSub)
	target.CurrentPeriodStart = toTimePtr(startTS)
	target.CurrentPeriodEnd = toTimePtr(endTS)
	target.TrialEnd = toTimePtr(stripeSub.TrialEnd)
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	if id := customerIDFromStripe(stripeSub); id != nil {
		target.ProcessorCustomerID = id
	}
	return nil
}

func periodFromStripe(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func customerIDFromStripe(sub *stripe.Subscription) *string {
	if sub == nil || sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}
	id := sub.Customer.ID
	return &id
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
