package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deeplux/deeplux-backend/api/controllers"
	webhookcontrollers "github.com/deeplux/deeplux-backend/api/controllers/webhooks"
	"github.com/deeplux/deeplux-backend/api/middleware"
	checkoutsvc "github.com/deeplux/deeplux-backend/internal/checkout"
	"github.com/deeplux/deeplux-backend/internal/reconcile"
	subscriptionsvc "github.com/deeplux/deeplux-backend/internal/subscriptions"
	webhookledger "github.com/deeplux/deeplux-backend/internal/webhooks"
	conektawebhook "github.com/deeplux/deeplux-backend/internal/webhooks/conekta"
	stripewebhook "github.com/deeplux/deeplux-backend/internal/webhooks/stripe"
	"github.com/deeplux/deeplux-backend/pkg/conekta"
	"github.com/deeplux/deeplux-backend/pkg/config"
	"github.com/deeplux/deeplux-backend/pkg/logger"
	"github.com/deeplux/deeplux-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	StripeClient         *stripe.Client
	ConektaClient        *conekta.Client
	WebhookLedger        *webhookledger.Ledger
	StripeWebhookService *stripewebhook.Service
	ConektaWebhookSvc    *conektawebhook.Service
	CheckoutService      checkoutsvc.Service
	SubscriptionService  subscriptionsvc.Service
	ReconcileService     reconcile.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.StripeWebhookService, params.StripeClient, params.WebhookLedger, logg))
		r.Post("/conekta", webhookcontrollers.ConektaWebhook(params.ConektaWebhookSvc, params.ConektaClient, params.WebhookLedger, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Post("/checkout", controllers.StartCheckout(params.CheckoutService, logg))

			r.Get("/subscriptions", controllers.ListSubscriptions(params.SubscriptionService, logg))
			r.Route("/subscription", func(r chi.Router) {
				r.Post("/cancel", controllers.CancelSubscription(params.SubscriptionService, logg))
				r.Post("/reactivate", controllers.ReactivateSubscription(params.SubscriptionService, logg))
			})
		})

		r.With(middleware.CronAuth(cfg.Cron.Secret, logg)).
			Post("/reconcile", controllers.TriggerReconcile(params.ReconcileService, logg))
	})

	return r
}
