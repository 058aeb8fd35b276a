package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deeplux/deeplux-backend/api/middleware"
	"github.com/deeplux/deeplux-backend/api/responses"
	"github.com/deeplux/deeplux-backend/api/validators"
	"github.com/deeplux/deeplux-backend/internal/checkout"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type checkoutRequest struct {
	PlanSlug        string `json:"plan_slug" validate:"required"`
	BillingInterval string `json:"billing_interval" validate:"omitempty,oneof=monthly annual"`
	Processor       string `json:"processor" validate:"omitempty,oneof=stripe conekta"`
	ClinicID        string `json:"clinic_id" validate:"omitempty,uuid"`
}

type checkoutResponse struct {
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	CheckoutURL    string     `json:"checkout_url,omitempty"`
}

// StartCheckout begins a subscription for the authenticated user.
func StartCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := checkout.Input{
			UserID:   userID,
			Email:    middleware.EmailFromContext(ctx),
			ClinicID: middleware.ClinicIDFromContext(ctx),
			PlanID:   body.PlanSlug,
		}
		if body.ClinicID != "" {
			clinicID, err := uuid.Parse(body.ClinicID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid clinic id"))
				return
			}
			input.ClinicID = &clinicID
		}
		if body.BillingInterval != "" {
			interval, err := enums.ParseBillingInterval(body.BillingInterval)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid interval"))
				return
			}
			input.Interval = interval
		}
		if body.Processor != "" {
			processor, err := enums.ParsePaymentProcessor(body.Processor)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid processor"))
				return
			}
			input.Processor = processor
		}

		result, err := svc.Start(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := checkoutResponse{CheckoutURL: result.CheckoutURL}
		if result.Subscription != nil {
			resp.SubscriptionID = &result.Subscription.ID
			resp.Status = result.Subscription.Status.String()
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}
