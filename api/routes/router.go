package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JannieHamberg/equibox-sub000/api/controllers"
	webhookcontrollers "github.com/JannieHamberg/equibox-sub000/api/controllers/webhooks"
	"github.com/JannieHamberg/equibox-sub000/api/middleware"
	authsvc "github.com/JannieHamberg/equibox-sub000/internal/auth"
	checkoutsvc "github.com/JannieHamberg/equibox-sub000/internal/checkout"
	customerssvc "github.com/JannieHamberg/equibox-sub000/internal/customers"
	planssvc "github.com/JannieHamberg/equibox-sub000/internal/plans"
	subssvc "github.com/JannieHamberg/equibox-sub000/internal/subscriptions"
	stripewebhook "github.com/JannieHamberg/equibox-sub000/internal/webhooks/stripe"
	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	"github.com/JannieHamberg/equibox-sub000/pkg/logger"
	"github.com/JannieHamberg/equibox-sub000/pkg/redis"
	"github.com/JannieHamberg/equibox-sub000/pkg/stripe"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Registry *prometheus.Registry

	Auth          authsvc.Service
	Plans         planssvc.Service
	Customers     customerssvc.Service
	Subscriptions subssvc.Service
	Checkout      checkoutsvc.Service
	StripeClient  *stripe.Client
	StripeWebhook *stripewebhook.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRate.LoginWindow,
		cfg.AuthRate.LoginIPLimit,
		cfg.AuthRate.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRate.RegisterWindow,
		cfg.AuthRate.RegisterIPLimit,
		cfg.AuthRate.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, deps.Redis, logg))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.Login(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, deps.Redis, logg)).Post("/register", controllers.Register(deps.Auth, logg))
	})

	r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, logg))

	// Storefront catalog is public: the plan page renders before login.
	r.Get("/subscriptions/prenumerationer", controllers.ListPlans(deps.Plans, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/stripe", func(r chi.Router) {
			r.Post("/get-or-create-customer", controllers.GetOrCreateCustomer(deps.Customers, logg))
			r.Post("/cleanup-subscriptions", controllers.CleanupSubscriptions(deps.Subscriptions, deps.Plans, logg))
			r.Post("/create-client-secret", controllers.CreateClientSecret(deps.Checkout, logg))
			r.Post("/create-subscription", controllers.CreateStripeSubscription(deps.Subscriptions, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/session", controllers.StartCheckout(deps.Checkout, logg))
			r.Get("/session/{id}", controllers.GetCheckoutSession(deps.Checkout, logg))
			r.Post("/session/{id}/submit", controllers.SubmitCheckout(deps.Checkout, logg))
			r.Post("/session/{id}/confirm", controllers.ConfirmCardCheckout(deps.Checkout, logg))
		})

		r.Route("/user", func(r chi.Router) {
			r.Post("/subscribe", controllers.Subscribe(deps.Subscriptions, logg))
			r.Get("/subscriptions", controllers.ListUserSubscriptions(deps.Subscriptions, logg))
			r.Post("/subscriptions/{id}/cancel", controllers.CancelUserSubscription(deps.Subscriptions, logg))
		})

		r.Route("/admin/plans", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
			r.Get("/", controllers.ListAllPlans(deps.Plans, logg))
			r.Post("/", controllers.CreatePlan(deps.Plans, logg))
			r.Put("/{id}", controllers.UpdatePlan(deps.Plans, logg))
			r.Delete("/{id}", controllers.ArchivePlan(deps.Plans, logg))
		})
	})

	return r
}
