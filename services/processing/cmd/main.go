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
	"digitaltwin/common/database"
	"digitaltwin/common/dlq"
	"digitaltwin/common/learning"
	"digitaltwin/common/postgres"
	"digitaltwin/common/queue"
	"digitaltwin/common/store"
	"digitaltwin/common/telemetry"
	"digitaltwin/services/processing/internal/classifier"
	"digitaltwin/services/processing/internal/config"
	"digitaltwin/services/processing/internal/dedup"
	"digitaltwin/services/processing/internal/events"
	"digitaltwin/services/processing/internal/extraction"
	"digitaltwin/services/processing/internal/validation"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newTracing(lc fx.Lifecycle, cfg *config.Config) error {
	shutdown, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, "1.0.0", cfg.OTELCollectorURL)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		shutdown()
		return nil
	}})
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

func newBroker(nc *nats.Conn, logger *zap.Logger) (queue.Broker, error) {
	broker, err := queue.NewJetStream(nc, logger)
	if err != nil {
		return nil, err
	}
	if err := broker.EnsureStreams(context.Background(), queue.All()...); err != nil {
		return nil, err
	}
	return broker, nil
}

func newClickHouseConnection(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (clickhouse.Conn, error) {
	db, err := database.New(context.Background(), database.Options{
		DSN:             cfg.ClickHouseDSN,
		MaxOpenConns:    cfg.ClickHouseMaxOpenConns,
		MaxIdleConns:    cfg.ClickHouseMaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouseConnMaxLife,
		Username:        cfg.ClickHouseUsername,
		Password:        cfg.ClickHousePassword,
		Database:        cfg.ClickHouseDatabase,
	}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return db.Close()
	}})
	return db.Conn(), nil
}

func newDeadLetterStore(conn clickhouse.Conn) dlq.Store {
	return dlq.NewClickHouseStore(conn)
}

func newCastingCalls(lc fx.Lifecycle, cfg *config.Config) (store.CastingCallRepository, error) {
	db, err := postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultConfig())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		db.Close()
		return nil
	}})
	return store.NewPgCastingCallRepository(db.Pool), nil
}

func newLearningStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *learning.Store {
	opts := cache.DefaultOptions()
	opts.DefaultTTL = cfg.LearningTTL
	opts.KeyPrefix = "twin:"

	var c cache.Cache
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, learning store is process-local")
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
	return learning.NewStore(c, cfg.LearningTTL)
}

// newClassifier uses the LLM when an API key is configured and the regex
// classifier otherwise.
func newClassifier(cfg *config.Config, logger *zap.Logger) classifier.Classifier {
	heuristic := classifier.NewHeuristicClassifier()
	if cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY not set, using heuristic classifier")
		return heuristic
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.LLMRatePerSec), cfg.LLMBurst)
	llm := classifier.NewLLMClassifier(&http.Client{}, classifier.LLMOptions{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	}, limiter, logger)
	return classifier.WithFallback(llm, heuristic, logger)
}

func newExtractor(cfg *config.Config, c classifier.Classifier, broker queue.Broker, learn *learning.Store, logger *zap.Logger) *extraction.Extractor {
	return extraction.New(c, broker, learn, extraction.Options{
		MinConfidence:         cfg.MinConfidence,
		RejectedResubmitAfter: cfg.RejectedResubmitAfter,
	}, logger)
}

func newValidator(cfg *config.Config, calls store.CastingCallRepository, logger *zap.Logger) *validation.Handler {
	return validation.NewHandler(calls, dedup.Policy{RejectedResubmitAfter: cfg.RejectedResubmitAfter}, logger)
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			newLogger,
			newNATSConnection,
			newBroker,
			newClickHouseConnection,
			newDeadLetterStore,
			newCastingCalls,
			newLearningStore,
			newClassifier,
			newExtractor,
			newValidator,
			events.NewHandler,
		),
		fx.Invoke(
			newTracing,
			func(handler *events.Handler, lc fx.Lifecycle) error {
				return handler.RegisterSubscriptions(lc)
			},
		),
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
