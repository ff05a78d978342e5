package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripnest/tripnest-backend/api/controllers"
	webhookcontrollers "github.com/tripnest/tripnest-backend/api/controllers/webhooks"
	"github.com/tripnest/tripnest-backend/api/middleware"
	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

// redisDeps is the Redis surface the HTTP layer needs: replay storage for
// idempotent routes and a readiness ping.
type redisDeps interface {
	middleware.ResponseStore
	Ping(ctx context.Context) error
}

// Services are the settlement operations exposed over HTTP.
type Services struct {
	Checkout   controllers.SessionCreator
	Refunds    controllers.Refunder
	Accounts   controllers.SettlementAccounts
	Reconciler webhookcontrollers.StripeReconciler
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisDeps,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(svc.Reconciler, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(cfg.App.CORSOrigins))

			r.Post("/checkout/sessions", controllers.CreateCheckoutSession(svc.Checkout, logg))
			r.With(middleware.Idempotency(redisClient, logg, middleware.RefundKeyTTL)).Post("/refunds", controllers.CreateRefund(svc.Refunds, logg))

			r.Route("/merchants/{merchantId}/settlement-account", func(r chi.Router) {
				r.With(middleware.Idempotency(redisClient, logg, middleware.SettlementKeyTTL)).Post("/", controllers.ProvisionSettlementAccount(svc.Accounts, logg))
				r.Get("/", controllers.GetSettlementAccount(svc.Accounts, logg))
				r.Post("/onboarding-link", controllers.CreateOnboardingLink(svc.Accounts, logg))
			})
		})
	})

	return r
}
