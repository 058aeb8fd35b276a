package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/deeplux/deeplux-backend/api/routes"
	"github.com/deeplux/deeplux-backend/internal/access"
	"github.com/deeplux/deeplux-backend/internal/billing"
	checkoutsvc "github.com/deeplux/deeplux-backend/internal/checkout"
	"github.com/deeplux/deeplux-backend/internal/reconcile"
	subscriptionsvc "github.com/deeplux/deeplux-backend/internal/subscriptions"
	webhookledger "github.com/deeplux/deeplux-backend/internal/webhooks"
	conektawebhook "github.com/deeplux/deeplux-backend/internal/webhooks/conekta"
	stripewebhook "github.com/deeplux/deeplux-backend/internal/webhooks/stripe"
	"github.com/deeplux/deeplux-backend/pkg/conekta"
	"github.com/deeplux/deeplux-backend/pkg/config"
	"github.com/deeplux/deeplux-backend/pkg/db"
	"github.com/deeplux/deeplux-backend/pkg/logger"
	"github.com/deeplux/deeplux-backend/pkg/migrate"
	"github.com/deeplux/deeplux-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	conektaClient, err := conekta.NewClient(context.Background(), cfg.Conekta, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap conekta", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	recomputer := access.NewRecomputer(dbClient.DB())

	ledger, err := webhookledger.NewLedger(billingRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook ledger", err)
		os.Exit(1)
	}

	stripeSubClient := subscriptionsvc.NewStripeClient(stripeClient)

	subscriptionService, err := subscriptionsvc.NewService(subscriptionsvc.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      stripeSubClient,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      checkoutsvc.NewStripeClient(stripeClient),
		Access:            recomputer,
		TransactionRunner: dbClient,
		SiteURL:           cfg.Site.URL,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      stripeSubClient,
		Access:            recomputer,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	conektaWebhookService, err := conektawebhook.NewService(conektawebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Access:            recomputer,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create conekta webhook service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      stripeSubClient,
		Access:            recomputer,
		TransactionRunner: dbClient,
		GraceDays:         cfg.Cron.GraceDays,
		Limit:             cfg.Cron.ReconcileLimit,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:               cfg,
			Logger:               logg,
			StripeClient:         stripeClient,
			ConektaClient:        conektaClient,
			WebhookLedger:        ledger,
			StripeWebhookService: stripeWebhookService,
			ConektaWebhookSvc:    conektaWebhookService,
			CheckoutService:      checkoutService,
			SubscriptionService:  subscriptionService,
			ReconcileService:     reconcileService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
