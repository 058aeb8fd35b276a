package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplux/deeplux-backend/api/middleware"
	"github.com/deeplux/deeplux-backend/internal/checkout"
	"github.com/deeplux/deeplux-backend/pkg/enums"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type stubCheckoutService struct {
	input  checkout.Input
	result *checkout.Result
	err    error
}

func (s *stubCheckoutService) Start(_ context.Context, input checkout.Input) (*checkout.Result, error) {
	s.input = input
	return s.result, s.err
}

func TestStartCheckoutReturnsSessionURL(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "api-test"})
	svc := &stubCheckoutService{result: &checkout.Result{CheckoutURL: "https://checkout.stripe.com/pay/cs_1"}}
	handler := StartCheckout(svc, logg)
	userID := uuid.New()

	clinicID := uuid.New()
	payload := `{"plan_slug":"pro","billing_interval":"annual","clinic_id":"` + clinicID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(payload))
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Data checkoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_1", body.Data.CheckoutURL)
	assert.Equal(t, userID, svc.input.UserID)
	assert.Equal(t, "pro", svc.input.PlanID)
	assert.Equal(t, enums.BillingIntervalAnnual, svc.input.Interval)
	require.NotNil(t, svc.input.ClinicID)
	assert.Equal(t, clinicID, *svc.input.ClinicID)
}

func TestStartCheckoutRejectsMissingPlan(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "api-test"})
	handler := StartCheckout(&stubCheckoutService{}, logg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCheckoutRequiresIdentity(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "api-test"})
	handler := StartCheckout(&stubCheckoutService{}, logg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"plan_slug":"pro"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
