// Package webhooks holds the shared event ledger that makes processor
// webhook handling idempotent across redeliveries.
package webhooks

import (
	"context"
	"time"

	"github.com/deeplux/deeplux-backend/internal/billing"
	"github.com/deeplux/deeplux-backend/pkg/db/models"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	pkgerrors "github.com/deeplux/deeplux-backend/pkg/errors"
)

// Ledger gates webhook processing on the webhook_events table. Each event is
// recorded before any mutation runs; a redelivered event that already
// completed is skipped without side effects. Failed events are retried on the
// next delivery.
type Ledger struct {
	repo billing.Repository
}

// NewLedger builds the idempotency ledger.
func NewLedger(repo billing.Repository) (*Ledger, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	return &Ledger{repo: repo}, nil
}

// Begin claims the event for processing. The returned skip flag is true when
// the event has already been handled and the caller should acknowledge
// without reprocessing.
func (l *Ledger) Begin(ctx context.Context, processor enums.PaymentProcessor, eventID, eventType string, payload []byte) (*models.WebhookEvent, bool, error) {
	if eventID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	existing, err := l.repo.FindWebhookEvent(ctx, processor, eventID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load webhook event")
	}

	if existing != nil {
		switch existing.Status {
		case enums.WebhookEventStatusProcessed, enums.WebhookEventStatusSkipped:
			return existing, true, nil
		default:
			// failed or stale processing row, claim it again
			existing.Status = enums.WebhookEventStatusProcessing
			existing.Error = nil
			if err := l.repo.UpdateWebhookEvent(ctx, existing); err != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reclaim webhook event")
			}
			return existing, false, nil
		}
	}

	event := &models.WebhookEvent{
		Processor: processor,
		EventID:   eventID,
		EventType: eventType,
		Status:    enums.WebhookEventStatusProcessing,
		Payload:   payload,
	}
	if err := l.repo.CreateWebhookEvent(ctx, event); err != nil {
		// a concurrent delivery may have won the insert race
		if winner, findErr := l.repo.FindWebhookEvent(ctx, processor, eventID); findErr == nil && winner != nil {
			return winner, true, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	return event, false, nil
}

// Processed marks the event as fully handled.
func (l *Ledger) Processed(ctx context.Context, event *models.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "webhook event required")
	}
	now := time.Now().UTC()
	event.Status = enums.WebhookEventStatusProcessed
	event.ProcessedAt = &now
	event.Error = nil
	return l.repo.UpdateWebhookEvent(ctx, event)
}

// Failed records the processing error so the next delivery retries.
func (l *Ledger) Failed(ctx context.Context, event *models.WebhookEvent, procErr error) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "webhook event required")
	}
	event.Status = enums.WebhookEventStatusFailed
	if procErr != nil {
		msg := procErr.Error()
		event.Error = &msg
	}
	return l.repo.UpdateWebhookEvent(ctx, event)
}
