// Package webhooks exposes the processor callback endpoints. Both handlers
// verify the request signature, claim the event in the idempotency ledger,
// and acknowledge with the fixed {received, skipped} shape processors expect.
package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/deeplux/deeplux-backend/api/responses"
	webhookledger "github.com/deeplux/deeplux-backend/internal/webhooks"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type receivedResponse struct {
	Received bool `json:"received"`
	Skipped  bool `json:"skipped,omitempty"`
}

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook handles Stripe subscription lifecycle events.
func StripeWebhook(svc StripeWebhookService, client stripeClient, ledger *webhookledger.Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		ctx = logg.WithProcessor(ctx, enums.PaymentProcessorStripe.String())
		record, skip, err := ledger.Begin(ctx, enums.PaymentProcessorStripe, event.ID, string(event.Type), payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if skip {
			responses.WriteJSON(w, http.StatusOK, receivedResponse{Received: true, Skipped: true})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if markErr := ledger.Failed(ctx, record, err); markErr != nil {
				logg.Error(ctx, "mark webhook event failed", markErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := ledger.Processed(ctx, record); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "event_id", event.ID), "stripe event processed")
		responses.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
	}
}
