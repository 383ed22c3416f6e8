package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/itsm-engine/internal/api/http"
	"github.com/spec-kit/itsm-engine/internal/api/http/handlers"
	"github.com/spec-kit/itsm-engine/internal/auth"
	"github.com/spec-kit/itsm-engine/internal/config"
	"github.com/spec-kit/itsm-engine/internal/directory"
	"github.com/spec-kit/itsm-engine/internal/events"
	"github.com/spec-kit/itsm-engine/internal/lock"
	"github.com/spec-kit/itsm-engine/internal/observability"
	"github.com/spec-kit/itsm-engine/internal/persistence"
	"github.com/spec-kit/itsm-engine/internal/seed"
	"github.com/spec-kit/itsm-engine/internal/service"
	"github.com/spec-kit/itsm-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	store, err := pg.OpenStore(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()
	redisClient := redis.Shared()

	var locker lock.Locker = lock.NewMutexMap()
	if cfg.Engine.LockBackend == config.LockBackendRedis {
		if redisClient == nil {
			logger.Fatal("redis lock backend selected but redis is unreachable", zap.String("addr", cfg.Redis.Addr))
		}
		locker = lock.NewRedisLocker(redisClient, lock.RedisOptions{
			TTL:  cfg.Engine.LockTTL,
			Wait: cfg.Engine.LockWait,
		}, logger)
	}

	dispatcher := events.NewQueuedDispatcher(events.NewInMemoryDispatcher(logger), cfg.Engine.EventQueueSize, logger)
	dir := directory.NewStatic(nil)
	clock := func() time.Time { return time.Now().UTC() }

	if cfg.Engine.SeedFile != "" {
		file, err := seed.Load(cfg.Engine.SeedFile)
		if err != nil {
			logger.Fatal("failed to load seed file", zap.String("path", cfg.Engine.SeedFile), zap.Error(err))
		}
		if err := seed.Apply(ctx, file, store, dir, clock(), logger); err != nil {
			logger.Fatal("failed to apply seed file", zap.Error(err))
		}
	}

	deps := service.Dependencies{
		Store:      store,
		Locker:     locker,
		Dispatcher: dispatcher,
		Directory:  dir,
		Metrics:    metrics,
		Logger:     logger,
		Clock:      clock,
	}
	automationService := service.NewAutomationService(deps, redisClient, cfg.Engine.RoundRobinPrefix)
	lifecycleService := service.NewLifecycleService(deps, automationService)
	approvalService := service.NewApprovalService(deps)
	escalationService := service.NewEscalationService(deps)
	configService := service.NewConfigService(deps)

	notificationService := service.NewNotificationService(dispatcher, redisClient, logger, cfg.Notification)

	workers := worker.NewManager(logger)
	workers.Register(worker.NewNotificationWorker(notificationService))
	workers.Register(dispatcher)
	if cfg.Engine.EscalationEnabled {
		workers.Register(worker.NewEscalationWorker(escalationService, cfg.Engine.EscalationInterval, clock, logger))
	}
	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("failed to start workers", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.Issuer)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	checks := []handlers.DependencyCheck{{Name: pg.Backend(), Pinger: store}}
	if redisClient != nil || cfg.Engine.LockBackend == config.LockBackendRedis {
		checks = append(checks, handlers.DependencyCheck{Name: "redis", Pinger: redis})
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks...),
		Tickets:        handlers.NewTicketsHandler(lifecycleService),
		Approvals:      handlers.NewApprovalsHandler(approvalService),
		Engine:         handlers.NewEngineHandler(escalationService, automationService, clock),
		Config:         handlers.NewConfigHandler(configService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
		MetricsPath:    cfg.Metrics.Path,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	workers.StopAll()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
