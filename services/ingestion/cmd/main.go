package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"digitaltwin/common/cache"
	"digitaltwin/common/cache/memory"
	rediscache "digitaltwin/common/cache/redis"
	"digitaltwin/common/control"
	"digitaltwin/common/dlq"
	"digitaltwin/common/models"
	"digitaltwin/common/postgres"
	"digitaltwin/common/queue"
	"digitaltwin/common/registry"
	"digitaltwin/common/store"
	"digitaltwin/common/telemetry"
	"digitaltwin/services/ingestion/internal/config"
	"digitaltwin/services/ingestion/internal/ingestor"
	"digitaltwin/services/ingestion/internal/orchestrator"
	"digitaltwin/services/ingestion/internal/scraper"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, "1.0.0", cfg.OTELCollectorURL)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		shutdown()
		return nil
	}})
	if cfg.OTELCollectorURL != "" {
		logger.Info("tracing enabled", zap.String("collector", cfg.OTELCollectorURL))
	}
	return nil
}

func newNATSConnection(lc fx.Lifecycle, cfg *config.Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Timeout(cfg.NATSConnTimeout),
		nats.Name(cfg.ServiceName),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return nc.Drain()
	}})
	return nc, nil
}

func newBroker(nc *nats.Conn, logger *zap.Logger) (*queue.JetStream, error) {
	broker, err := queue.NewJetStream(nc, logger)
	if err != nil {
		return nil, err
	}
	if err := broker.EnsureStreams(context.Background(), queue.All()...); err != nil {
		return nil, err
	}
	return broker, nil
}

func newDatabase(lc fx.Lifecycle, cfg *config.Config) (*postgres.Database, error) {
	db, err := postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultConfig())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		db.Close()
		return nil
	}})
	return db, nil
}

func newRegistry(db *postgres.Database, logger *zap.Logger) *registry.Service {
	return registry.NewService(store.NewPgSourceRepository(db.Pool), logger)
}

// newCaptureCache falls back to an in-process cache when no Redis address is
// configured; the fingerprint filter then only spans this process.
func newCaptureCache(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) cache.Cache {
	opts := cache.DefaultOptions()
	opts.DefaultTTL = cfg.CaptureCacheTTL
	opts.KeyPrefix = "twin:ingestion:"

	var c cache.Cache
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory capture cache")
		c = memory.New(opts)
	} else {
		opts.RedisURL = cfg.RedisAddr
		opts.RedisPassword = cfg.RedisPassword
		opts.RedisDB = cfg.RedisDB
		c = rediscache.New(opts)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return c.Close()
	}})
	return c
}

func newScrapers(cfg *config.Config, logger *zap.Logger) scraper.Registry {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	limiter := scraper.NewHostLimiter(cfg.HostRequestsPerSecond, cfg.HostBurst)
	return scraper.NewRegistry(
		scraper.NewWebScraper(client, limiter, scraper.WebOptions{
			UserAgent:    cfg.UserAgent,
			MaxPageBytes: cfg.MaxPageBytes,
		}, logger),
		scraper.NewWhatsAppScraper(client, scraper.WhatsAppOptions{
			BaseURL:  cfg.WhatsAppBridgeURL,
			Token:    cfg.WhatsAppBridgeToken,
			Lookback: cfg.WhatsAppLookback,
			Overlap:  cfg.WhatsAppPollOverlap,
		}, logger),
	)
}

func newIngestor(cfg *config.Config, scrapers scraper.Registry, broker *queue.JetStream, sources *registry.Service, seen cache.Cache, logger *zap.Logger) *ingestor.Ingestor {
	retry := queue.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.ScrapeMaxAttempts
	retry.InitialInterval = cfg.ScrapeInitialBackoff
	retry.MaxInterval = cfg.ScrapeMaxBackoff

	return ingestor.New(scrapers, broker, dlq.NewPublisher(broker, logger), sources, seen,
		ingestor.Options{Retry: retry, SeenTTL: cfg.CaptureCacheTTL}, logger)
}

func newOrchestrator(cfg *config.Config, sources *registry.Service, ing *ingestor.Ingestor, logger *zap.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(sources, ing, orchestrator.Options{
		Lanes: []orchestrator.Lane{
			{SourceType: models.SourceTypeWeb, Interval: cfg.WebScrapeInterval},
			{SourceType: models.SourceTypeWhatsApp, Interval: cfg.WhatsAppPollInterval},
		},
		MaxConcurrent: cfg.MaxConcurrentSources,
		SourceTimeout: cfg.SourceTimeout,
	}, logger)
}

func run(lc fx.Lifecycle, cfg *config.Config, sources *registry.Service, orch *orchestrator.Orchestrator, nc *nats.Conn, logger *zap.Logger) {
	ctrl := control.NewServer(nc, orch, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.SeedFile != "" {
				n, err := sources.Seed(ctx, cfg.SeedFile)
				if err != nil {
					return err
				}
				logger.Info("seeded sources", zap.Int("created", n), zap.String("file", cfg.SeedFile))
			}
			if err := ctrl.Register(); err != nil {
				return err
			}
			return orch.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			orch.Stop()
			return ctrl.Close()
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			newLogger,
			newNATSConnection,
			newBroker,
			newDatabase,
			newRegistry,
			newCaptureCache,
			newScrapers,
			newIngestor,
			newOrchestrator,
		),
		fx.Invoke(newTracing, run),
	)

	startCtx := context.Background()
	if err := app.Start(startCtx); err != nil {
		log.Fatal(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	stopCtx := context.Background()
	if err := app.Stop(stopCtx); err != nil {
		log.Fatal(err)
	}
}
