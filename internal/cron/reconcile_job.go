package cron

import (
	"context"
	"fmt"

	"github.com/deeplux/deeplux-backend/internal/reconcile"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

// ReconcileJobParams configures the subscription reconciliation cron job.
type ReconcileJobParams struct {
	Logger    *logger.Logger
	Reconcile reconcile.Service
}

type reconcileJob struct {
	logg    *logger.Logger
	service reconcile.Service
}

// NewReconcileJob wraps the reconciliation sweep as a cron job.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconcile == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	return &reconcileJob{logg: params.Logger, service: params.Reconcile}, nil
}

func (j *reconcileJob) Name() string { return "subscription-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	summary, err := j.service.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation sweep: %w", err)
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"checked": summary.Checked,
		"updated": summary.Updated,
		"errors":  summary.Errors,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	if summary.Errors > 0 {
		return fmt.Errorf("reconciliation finished with %d item errors", summary.Errors)
	}
	return nil
}
