package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/deeplux/deeplux-backend/internal/reconcile"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

type stubReconcile struct {
	summary *reconcile.Summary
	err     error
	runs    int
}

func (s *stubReconcile) Run(context.Context) (*reconcile.Summary, error) {
	s.runs++
	return s.summary, s.err
}

func TestReconcileJobReportsSummary(t *testing.T) {
	service := &stubReconcile{summary: &reconcile.Summary{Checked: 3, Updated: 1}}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Reconcile: service,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "subscription-reconcile" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if service.runs != 1 {
		t.Fatalf("expected sweep to run once, ran %d", service.runs)
	}
}

func TestReconcileJobSurfacesItemErrors(t *testing.T) {
	service := &stubReconcile{summary: &reconcile.Summary{Checked: 2, Errors: 2}}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Reconcile: service,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error when sweep reports item failures")
	}
}

func TestReconcileJobSurfacesFatalError(t *testing.T) {
	service := &stubReconcile{summary: &reconcile.Summary{}, err: errors.New("db down")}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Reconcile: service,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected fatal sweep error to propagate")
	}
}
