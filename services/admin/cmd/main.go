package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"digitaltwin/common/audit"
	"digitaltwin/common/cache"
	"digitaltwin/common/cache/memory"
	rediscache "digitaltwin/common/cache/redis"
	"digitaltwin/common/control"
	"digitaltwin/common/database"
	"digitaltwin/common/dlq"
	"digitaltwin/common/learning"
	"digitaltwin/common/postgres"
	"digitaltwin/common/queue"
	"digitaltwin/common/registry"
	"digitaltwin/common/store"
	"digitaltwin/common/telemetry"
	"digitaltwin/services/admin/internal/auth"
	"digitaltwin/services/admin/internal/config"
	"digitaltwin/services/admin/internal/handler"
	"digitaltwin/services/admin/internal/routes"
	"digitaltwin/services/admin/internal/server"
	"digitaltwin/services/admin/internal/workflow"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "development" {
		return zap.NewDevelopment()
	}
	gin.SetMode(gin.ReleaseMode)
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

func newOrchestratorClient(nc *nats.Conn, cfg *config.Config) *control.Client {
	return control.NewClient(nc, cfg.ControlTimeout)
}

type repositories struct {
	fx.Out

	Sources store.SourceRepository
	Calls   store.CastingCallRepository
}

func newRepositories(lc fx.Lifecycle, cfg *config.Config) (repositories, error) {
	db, err := postgres.Connect(context.Background(), cfg.DatabaseURL, postgres.DefaultConfig())
	if err != nil {
		return repositories{}, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		db.Close()
		return nil
	}})
	return repositories{
		Sources: store.NewPgSourceRepository(db.Pool),
		Calls:   store.NewPgCastingCallRepository(db.Pool),
	}, nil
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

func newAuditLog(conn clickhouse.Conn) audit.Log {
	return audit.NewClickHouseLog(conn)
}

func newDeadLetterStore(conn clickhouse.Conn) dlq.Store {
	return dlq.NewClickHouseStore(conn)
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

func newWorkflow(cfg *config.Config, calls store.CastingCallRepository, log audit.Log, broker *queue.JetStream, learn *learning.Store, logger *zap.Logger) *workflow.Service {
	return workflow.NewService(calls, log, broker, learn, workflow.Options{ApprovedStatus: cfg.ApprovedStatus}, logger)
}

func newAuth(cfg *config.Config) *auth.Middleware {
	return auth.NewMiddleware(auth.NewService(cfg.JWTSecret, cfg.TokenTTL), cfg.AdminRoles, handler.WriteError)
}

func newHandlers(
	cfg *config.Config,
	orch *control.Client,
	sources *registry.Service,
	calls store.CastingCallRepository,
	broker *queue.JetStream,
	flow *workflow.Service,
	log audit.Log,
	deadLetters dlq.Store,
	logger *zap.Logger,
) routes.Handlers {
	return routes.Handlers{
		Status:     handler.NewStatusHandler(orch, sources, calls, broker, deadLetters, logger),
		Validation: handler.NewValidationHandler(flow, log, logger),
		Sources:    handler.NewSourcesHandler(sources, logger),
		DLQ:        handler.NewDLQHandler(deadLetters, logger),
		Webhook:    handler.NewWebhookHandler(cfg.WhatsAppWebhookSecret, sources, broker, logger),
	}
}

func runHTTPServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine, logger *zap.Logger) {
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("admin API listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin API stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
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
			newOrchestratorClient,
			newRepositories,
			registry.NewService,
			newClickHouseConnection,
			newAuditLog,
			newDeadLetterStore,
			newLearningStore,
			newWorkflow,
			newAuth,
			newHandlers,
			server.NewServer,
		),
		fx.Invoke(
			newTracing,
			runHTTPServer,
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
