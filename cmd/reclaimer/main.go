package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/appealpost/appealpost-backend/internal/address"
	"github.com/appealpost/appealpost-backend/internal/dispatch"
	"github.com/appealpost/appealpost-backend/internal/documents"
	"github.com/appealpost/appealpost-backend/internal/fulfillment"
	"github.com/appealpost/appealpost-backend/internal/ledger"
	"github.com/appealpost/appealpost-backend/internal/notify"
	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	"github.com/appealpost/appealpost-backend/internal/orders"
	"github.com/appealpost/appealpost-backend/internal/reclaimer"
	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db"
	"github.com/appealpost/appealpost-backend/pkg/lob"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/metrics"
	"github.com/appealpost/appealpost-backend/pkg/migrate"
	"github.com/appealpost/appealpost-backend/pkg/redis"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/sendgrid"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reclaimer"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reclaimer",
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

	pipelineMetrics := metrics.NewPipelineMetrics(nil)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Cache:  redisClient,
		Logger: logg,
		Config: cfg.Ledger,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	opsqueueSvc, err := opsqueue.NewService(opsqueue.NewRepository(dbClient.DB()), pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create operator queue", err)
		os.Exit(1)
	}

	assembler, err := documents.NewAssembler(documents.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create assembler", err)
		os.Exit(1)
	}

	policy := resilience.PolicyFromConfig(cfg.Resilience)

	verifierCaller, err := newCaller("lob_verifications", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create verifier caller", err)
		os.Exit(1)
	}
	verifier, err := address.NewVerifier(lobClient, verifierCaller)
	if err != nil {
		logg.Error(context.Background(), "failed to create verifier", err)
		os.Exit(1)
	}

	dispatchCaller, err := newCaller("lob_letters", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatch caller", err)
		os.Exit(1)
	}
	dispatcher, err := dispatch.NewClient(lobClient, dispatchCaller, cfg.Mail)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	notifyCaller, err := newCaller("sendgrid", policy, cfg.Resilience, logg, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create notify caller", err)
		os.Exit(1)
	}
	notifier, err := notify.NewService(sendgridClient, notifyCaller, cfg.Sendgrid)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())

	orchestrator, err := fulfillment.New(fulfillment.Params{
		Orders:     ordersRepo,
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
		logg.Error(context.Background(), "failed to create orchestrator", err)
		os.Exit(1)
	}

	worker, err := reclaimer.New(reclaimer.Params{
		Ledger:       ledgerSvc,
		Orchestrator: orchestrator,
		Orders:       ordersRepo,
		Lease:        redisClient,
		Tasks:        opsqueueSvc,
		Logger:       logg,
		Config:       cfg.Reclaimer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reclaimer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "reclaimer",
	})
	logg.Info(ctx, "starting webhook reclaimer")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reclaimer stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reclaimer shutting down gracefully")
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
