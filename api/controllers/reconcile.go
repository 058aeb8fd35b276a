package controllers

import (
	"net/http"
	"time"

	"github.com/deeplux/deeplux-backend/api/responses"
	"github.com/deeplux/deeplux-backend/internal/reconcile"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

// reconcileResponse is a fixed shape consumed by the scheduler that calls
// this endpoint; it is not wrapped in the standard envelope.
type reconcileResponse struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	Checked   int    `json:"checked"`
	Updated   int    `json:"updated"`
	Errors    int    `json:"errors"`
}

// TriggerReconcile runs the reconciliation sweep on demand.
func TriggerReconcile(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		summary, err := svc.Run(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, reconcileResponse{
			Success:   true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checked:   summary.Checked,
			Updated:   summary.Updated,
			Errors:    summary.Errors,
		})
	}
}
