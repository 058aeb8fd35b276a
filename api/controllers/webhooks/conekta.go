package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/deeplux/deeplux-backend/api/responses"
	webhookledger "github.com/deeplux/deeplux-backend/internal/webhooks"
	conektawebhook "github.com/deeplux/deeplux-backend/internal/webhooks/conekta"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type ConektaWebhookService interface {
	HandleEvent(ctx context.Context, event *conektawebhook.Event) error
}

type conektaClient interface {
	VerifySignature(payload []byte, signature string) error
}

// ConektaWebhook handles Conekta order events for cash and transfer payments.
func ConektaWebhook(svc ConektaWebhookService, client conektaClient, ledger *webhookledger.Ledger, logg *logger.Logger) http.HandlerFunc {
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

		signature := strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "conekta signature missing"))
			return
		}
		if err := client.VerifySignature(payload, signature); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		var event conektawebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		if strings.TrimSpace(event.ID) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
			return
		}

		ctx = logg.WithProcessor(ctx, enums.PaymentProcessorConekta.String())
		record, skip, err := ledger.Begin(ctx, enums.PaymentProcessorConekta, event.ID, event.Type, payload)
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

		logg.Info(logg.WithField(ctx, "event_id", event.ID), "conekta event processed")
		responses.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
	}
}
