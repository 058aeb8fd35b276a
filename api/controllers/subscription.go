package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deeplux/deeplux-backend/api/middleware"
	"github.com/deeplux/deeplux-backend/api/responses"
	"github.com/deeplux/deeplux-backend/internal/subscriptions"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	BillingInterval    string     `json:"billing_interval"`
	PaymentProcessor   *string    `json:"payment_processor,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	GracePeriodEndsAt  *time.Time `json:"grace_period_ends_at,omitempty"`
	InGracePeriod      bool       `json:"in_grace_period"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
}

func toSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:                 sub.ID,
		PlanID:             sub.PlanID,
		Status:             sub.Status.String(),
		BillingInterval:    sub.BillingInterval.String(),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEnd:           sub.TrialEnd,
		GracePeriodEndsAt:  sub.GracePeriodEndsAt,
		InGracePeriod:      sub.InGracePeriod(time.Now().UTC()),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
	}
	if sub.PaymentProcessor != nil {
		processor := sub.PaymentProcessor.String()
		resp.PaymentProcessor = &processor
	}
	return resp
}

func authedUserID(r *http.Request) (uuid.UUID, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity")
	}
	return userID, nil
}

// ListSubscriptions returns the authenticated user's subscriptions.
func ListSubscriptions(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		subs, err := svc.ListForUser(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			payload = append(payload, toSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccess(w, payload)
	}
}

// CancelSubscription schedules or performs a cancellation of the caller's
// current subscription.
func CancelSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Cancel(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSubscriptionResponse(sub))
	}
}

// ReactivateSubscription clears a pending cancellation on the caller's
// current subscription.
func ReactivateSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Reactivate(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSubscriptionResponse(sub))
	}
}
