package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/appealpost/appealpost-backend/api/routes"
	"github.com/appealpost/appealpost-backend/internal/address"
	"github.com/appealpost/appealpost-backend/internal/dispatch"
	"github.com/appealpost/appealpost-backend/internal/documents"
	"github.com/appealpost/appealpost-backend/internal/fulfillment"
	"github.com/appealpost/appealpost-backend/internal/ledger"
	"github.com/appealpost/appealpost-backend/internal/notify"
	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	"github.com/appealpost/appealpost-backend/internal/orders"
	lobwebhook "github.com/appealpost/appealpost-backend/internal/webhooks/lob"
	stripewebhook "github.com/appealpost/appealpost-backend/internal/webhooks/stripe"
	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db"
	"github.com/appealpost/appealpost-backend/pkg/lob"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/metrics"
	"github.com/appealpost/appealpost-backend/pkg/migrate"
	"github.com/appealpost/appealpost-backend/pkg/redis"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/sendgrid"
	"github.com/appealpost/appealpost-backend/pkg/stripe"
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

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	lobClient, err := lob.NewClient(cfg.Lob.APIKey, lob.WithBaseURL(cfg.Lob.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap lob", err)
		os.Exit(1)
	}

	sendgridClient, err := sendgrid.NewClient(cfg.Sendgrid.APIKey, cfg.Sendgrid.DefaultFrom, sendgrid.WithBaseURL(cfg.Sendgrid.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap sendgrid", err)
		os.Exit(1)
	}

	orchestrator, opsqueueSvc, err := buildPipeline(cfg, logg, dbClient, redisClient, pipelineMetrics, lobClient, sendgridClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build fulfillment pipeline", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), documents.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	stripeWebhookSvc, err := stripewebhook.NewService(orchestrator, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	lobWebhookSvc, err := lobwebhook.NewService(orchestrator, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create lob webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Orders:        ordersSvc,
			OperatorQueue: opsqueueSvc,
			StripeClient:  stripeClient,
			StripeWebhook: stripeWebhookSvc,
			LobWebhook:    lobWebhookSvc,
			Metrics:       registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildPipeline wires the fulfillment orchestrator and its collaborators.
func buildPipeline(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pipelineMetrics *metrics.PipelineMetrics,
	lobClient *lob.Client,
	sendgridClient *sendgrid.Client,
) (*fulfillment.Orchestrator, *opsqueue.Service, error) {
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Cache:  redisClient,
		Logger: logg,
		Config: cfg.Ledger,
	})
	if err != nil {
		return nil, nil, err
	}

	opsqueueSvc, err := opsqueue.NewService(opsqueue.NewRepository(dbClient.DB()), pipelineMetrics)
	if err != nil {
		return nil, nil, err
	}

	assembler, err := documents.NewAssembler(documents.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, nil, err
	}

	policy := resilience.PolicyFromConfig(cfg.Resilience)

	verifierCaller, err := newCaller("lob_verifications", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := address.NewVerifier(lobClient, verifierCaller)
	if err != nil {
		return nil, nil, err
	}

	dispatchCaller, err := newCaller("lob_letters", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		return nil, nil, err
	}
	dispatcher, err := dispatch.NewClient(lobClient, dispatchCaller, cfg.Mail)
	if err != nil {
		return nil, nil, err
	}

	notifyCaller, err := newCaller("sendgrid", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := notify.NewService(sendgridClient, notifyCaller, cfg.Sendgrid)
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := fulfillment.New(fulfillment.Params{
		Orders:     orders.NewRepository(dbClient.DB()),
		Ledger:     ledgerSvc,
		Assembler:  assembler,
		Verifier:   verifier,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Tasks:      opsqueueSvc,
		Logger:     logg,
		Observer:   pipelineMetrics,
	})
	if err != nil {
		return nil, nil, err
	}

	return orchestrator, opsqueueSvc, nil
}

func newCaller(name string, policy resilience.Policy, cfg config.ResilienceConfig, logg *logger.Logger, observer resilience.Observer) (*resilience.Caller, error) {
	return resilience.NewCaller(resilience.CallerParams{
		Name:     name,
		Policy:   policy,
		Breaker:  resilience.NewBreaker(name, cfg.BreakerThreshold, cfg.BreakerCooldown),
		Logger:   logg,
		Observer: observer,
	})
}
