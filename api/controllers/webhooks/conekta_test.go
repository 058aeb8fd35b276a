package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	webhookledger "github.com/deeplux/deeplux-backend/internal/webhooks"
	conektawebhook "github.com/deeplux/deeplux-backend/internal/webhooks/conekta"
	"github.com/deeplux/deeplux-backend/pkg/conekta"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

const conektaTestSecret = "conekta_whsec_test"

type fakeConektaWebhookService struct {
	calls int
	err   error
}

func (f *fakeConektaWebhookService) HandleEvent(context.Context, *conektawebhook.Event) error {
	f.calls++
	return f.err
}

type fakeConektaVerifier struct{}

func (fakeConektaVerifier) VerifySignature(payload []byte, signature string) error {
	return conekta.VerifySignature(conektaTestSecret, payload, signature)
}

func newConektaHandler(t *testing.T, service *fakeConektaWebhookService, repo *memEventRepo) http.HandlerFunc {
	t.Helper()
	ledger, err := webhookledger.NewLedger(repo)
	if err != nil {
		t.Fatalf("ledger setup: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "webhook-test"})
	return ConektaWebhook(service, fakeConektaVerifier{}, ledger, logg)
}

func buildConektaEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	order := conektawebhook.Order{
		ID:       "ord_" + uuid.NewString(),
		Amount:   49900,
		Currency: "mxn",
		Metadata: map[string]string{
			"user_id": uuid.NewString(),
			"plan_id": "pro",
		},
	}
	rawOrder, err := json.Marshal(order)
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	event := conektawebhook.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: "order.paid",
		Data: conektawebhook.EventData{Object: rawOrder},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, conekta.SignPayload(conektaTestSecret, payload)
}

func TestConektaWebhook_SuccessAndReplay(t *testing.T) {
	payload, digest := buildConektaEvent(t)
	service := &fakeConektaWebhookService{}
	handler := newConektaHandler(t, service, newMemEventRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/conekta", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", digest)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/conekta", bytes.NewReader(payload))
	req2.Header.Set("X-Webhook-Signature", digest)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec2.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["skipped"] != true {
		t.Fatalf("expected skipped=true on replay, got %v", body)
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestConektaWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildConektaEvent(t)
	service := &fakeConektaWebhookService{}
	handler := newConektaHandler(t, service, newMemEventRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/conekta", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestConektaWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildConektaEvent(t)
	handler := newConektaHandler(t, &fakeConektaWebhookService{}, newMemEventRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/conekta", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
}
