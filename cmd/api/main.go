package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JannieHamberg/equibox-sub000/api/routes"
	authsvc "github.com/JannieHamberg/equibox-sub000/internal/auth"
	checkoutsvc "github.com/JannieHamberg/equibox-sub000/internal/checkout"
	customerssvc "github.com/JannieHamberg/equibox-sub000/internal/customers"
	planssvc "github.com/JannieHamberg/equibox-sub000/internal/plans"
	subssvc "github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	"github.com/JannieHamberg/equibox-sub000/internal/users"
	stripewebhook "github.com/JannieHamberg/equibox-sub000/internal/webhooks/stripe"
	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
	"github.com/JannieHamberg/equibox-sub000/pkg/metrics"
	"github.com/JannieHamberg/equibox-sub000/pkg/migrate"
	"github.com/JannieHamberg/equibox-sub000/pkg/redis"
	"github.com/JannieHamberg/equibox-sub000/pkg/stripe"
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	userRepo := users.NewRepository(dbClient.DB())
	planRepo := planssvc.NewRepository(dbClient.DB())
	subRepo := subssvc.NewRepository(dbClient.DB())

	authService, err := authsvc.NewService(authsvc.ServiceParams{
		UserRepo:       userRepo,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	planService, err := planssvc.NewService(planssvc.ServiceParams{
		Repo:            planRepo,
		DefaultCurrency: cfg.Stripe.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	customerService, err := customerssvc.NewService(customerssvc.ServiceParams{
		Users:        userRepo,
		StripeClient: customerssvc.NewStripeClient(stripeClient),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customer service", err)
		os.Exit(1)
	}

	subscriptionService, err := subssvc.NewService(subssvc.ServiceParams{
		Repo:         subRepo,
		Plans:        planRepo,
		StripeClient: subssvc.NewStripeClient(stripeClient),
		StripeConfig: cfg.Stripe,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	sessionStore, err := checkoutsvc.NewSessionStore(redisClient, cfg.Checkout.SessionTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create session store", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Customers:      customerService,
		Subscriptions:  subscriptionService,
		Plans:          planRepo,
		Sessions:       sessionStore,
		Guard:          redisClient,
		Payments:       checkoutsvc.NewStripeClient(stripeClient),
		CheckoutConfig: cfg.Checkout,
		StripeConfig:   cfg.Stripe,
		Metrics:        checkoutMetrics,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions: subscriptionService,
		StripeClient:  subssvc.NewStripeClient(stripeClient),
		Guard:         redisClient,
		EventTTL:      cfg.Checkout.WebhookEventTTL,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Registry:      registry,
			Auth:          authService,
			Plans:         planService,
			Customers:     customerService,
			Subscriptions: subscriptionService,
			Checkout:      checkoutService,
			StripeClient:  stripeClient,
			StripeWebhook: webhookService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
