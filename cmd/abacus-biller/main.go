// Command abacus-biller runs the recurring billing service: the renewal and
// charge-completion sweeps on cron schedules, plan catalog hot-reload, and a
// health/metrics endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/abacus/pkg/cart"
	"github.com/platinummonkey/abacus/pkg/checkout"
	"github.com/platinummonkey/abacus/pkg/config"
	"github.com/platinummonkey/abacus/pkg/coupon"
	"github.com/platinummonkey/abacus/pkg/invoicing"
	"github.com/platinummonkey/abacus/pkg/ledger"
	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/orgs"
	"github.com/platinummonkey/abacus/pkg/plan"
	"github.com/platinummonkey/abacus/pkg/processor"
	"github.com/platinummonkey/abacus/pkg/reconciler"
	"github.com/platinummonkey/abacus/pkg/storage/postgres"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tracerProvider, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize tracing")
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
		MaxLifetime: cfg.Storage.PostgresMaxLifetime,
		MaxIdleTime: cfg.Storage.PostgresMaxIdleTime,
	}, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer cm.Close()

	var snapshots *ledger.SnapshotCache
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		snapshots, err = ledger.NewSnapshotCache(cfg.Storage.RedisURL, cfg.Storage.SnapshotTTL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer snapshots.Close()
		redisClient = snapshots.Client()
	}

	orgService := orgs.NewPostgresService(cm.Primary())
	planService, err := plan.NewCachedService(plan.NewPostgresService(cm.Primary()), cfg.Storage.PlanCacheSize)
	if err != nil {
		log.WithError(err).Fatal("failed to create plan cache")
	}
	couponService := coupon.NewPostgresService(cm.Primary())
	cartService := cart.NewPostgresService(cm.Primary())
	subService := subscription.NewPostgresService(cm.Primary())

	var backend processor.Backend
	switch cfg.Billing.ProcessorMode {
	case "gateway":
		backend = processor.NewGateway(cfg.Billing.ProcessorURL, cfg.Billing.ProcessorKey)
	default:
		logger.Warn("running with the fake payment processor, no real money moves")
		backend = processor.NewFake()
	}

	invoicer := invoicing.NewEngine(invoicing.Deps{
		Orgs:      orgService,
		Plans:     planService,
		Carts:     cartService,
		Subs:      subService,
		Coupons:   couponService,
		Ledger:    ledger.NewStore(cm.Replica()),
		Snapshots: snapshotsOrNil(snapshots),
		Logger:    logger,
		Metrics:   metrics,
	})
	chargeStore := checkout.NewStore(cm.Primary())
	checkouts := checkout.NewEngine(checkout.Deps{
		DB:        cm.Primary(),
		Store:     chargeStore,
		Orgs:      orgService,
		Backend:   backend,
		Snapshots: snapshotsOrNil(snapshots),
		Logger:    logger,
		Metrics:   metrics,
	})
	sweeper := reconciler.NewEngine(reconciler.Deps{
		DB:          cm.Primary(),
		Subs:        subService,
		Plans:       planService,
		Orgs:        orgService,
		Invoicer:    invoicer,
		Checkouts:   checkouts,
		Charges:     chargeStore,
		Backend:     backend,
		Snapshots:   snapshotsOrNil(snapshots),
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: cfg.Billing.CompletionConcurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Billing.CatalogPath != "" {
		watchCatalog(ctx, cfg, planService, logger)
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Billing.RenewalSchedule, func() {
		defer observability.RecoverPanic(logger, "renewal sweep")
		now := time.Now().UTC()
		ctx := observability.ContextWithLogger(ctx, logger.WithField("sweep", "renewal"))
		charges, err := sweeper.ExtendSubscriptions(ctx, now, cfg.Billing.RenewalBatchSize)
		if err != nil {
			logger.WithError(err).Error("renewal sweep failed")
			return
		}
		logger.WithField("charges", len(charges)).Info("renewal sweep completed")
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule renewal sweep")
	}
	_, err = c.AddFunc(cfg.Billing.CompletionSchedule, func() {
		defer observability.RecoverPanic(logger, "completion sweep")
		if err := sweeper.CompleteCharges(ctx); err != nil {
			logger.WithError(err).Error("completion sweep failed")
			return
		}
		logger.Info("completion sweep completed")
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule completion sweep")
	}
	c.Start()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.ObserveStats(metrics)
			case <-ctx.Done():
				return
			}
		}
	}()

	healthServer := newHealthServer(cfg, cm, redisClient, registry, metrics)
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"renewal_schedule":    cfg.Billing.RenewalSchedule,
		"completion_schedule": cfg.Billing.CompletionSchedule,
	}).Info("abacus-biller started")

	shutdown := observability.NewShutdownSequence(logger, 30*time.Second)
	shutdown.Add("cron scheduler", func(ctx context.Context) error {
		cancel()
		stopped := c.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Add("health listener", healthServer.Shutdown)
	shutdown.Add("trace exporter", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tracerProvider, logger)
	})
	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
}

func snapshotsOrNil(c *ledger.SnapshotCache) invoicing.Snapshots {
	if c == nil {
		return nil
	}
	return c
}

func watchCatalog(ctx context.Context, cfg *config.Config, planService plan.Service, logger *observability.Logger) {
	seed := func(cat *plan.CatalogFile) {
		created, err := plan.Seed(planService, cat, cfg.Billing.DefaultProviderOrgID)
		if err != nil {
			logger.WithError(err).Error("catalog seed failed")
			return
		}
		if created > 0 {
			logger.WithField("created", created).Info("catalog plans created")
		}
	}

	cat, err := plan.LoadCatalog(cfg.Billing.CatalogPath)
	if err != nil {
		logger.WithError(err).Error("failed to load plan catalog")
		return
	}
	seed(cat)

	err = plan.WatchCatalog(ctx, cfg.Billing.CatalogPath, seed, func(err error) {
		logger.WithError(err).Warn("catalog reload failed, keeping previous plans")
	})
	if err != nil {
		logger.WithError(err).Warn("catalog watch unavailable")
	}
}

func newHealthServer(cfg *config.Config, cm *postgres.ConnectionManager, redisClient *redis.Client, registry *prometheus.Registry, metrics *observability.Metrics) *http.Server {
	checker := observability.NewHealthChecker(cm.Primary(), redisClient)

	r := mux.NewRouter()
	r.Use(observability.HTTPMetricsMiddleware(metrics))
	r.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	r.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
