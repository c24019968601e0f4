package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appealpost/appealpost-backend/api/controllers"
	webhookcontrollers "github.com/appealpost/appealpost-backend/api/controllers/webhooks"
	"github.com/appealpost/appealpost-backend/api/middleware"
	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	"github.com/appealpost/appealpost-backend/internal/orders"
	lobwebhook "github.com/appealpost/appealpost-backend/internal/webhooks/lob"
	stripewebhook "github.com/appealpost/appealpost-backend/internal/webhooks/stripe"
	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/redis"
	"github.com/appealpost/appealpost-backend/pkg/stripe"
)

// RouterParams carries the wired services the HTTP surface exposes.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         redis.Pinger
	Orders        orders.Service
	OperatorQueue *opsqueue.Service
	StripeClient  *stripe.Client
	StripeWebhook *stripewebhook.Service
	LobWebhook    *lobwebhook.Service
	Metrics       prometheus.Gatherer
}

// NewRouter builds the API route tree.
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
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.StripeWebhook, params.StripeClient, logg))
		r.Post("/lob", webhookcontrollers.LobWebhook(params.LobWebhook, cfg.Lob, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", controllers.CreateOrder(params.Orders, logg))
		r.Get("/{orderID}", controllers.GetOrder(params.Orders, logg))
		r.Get("/{orderID}/status", controllers.GetOrderStatus(params.Orders, logg))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Get("/operator-tasks", controllers.ListOperatorTasks(params.OperatorQueue, logg))
	})

	return r
}
