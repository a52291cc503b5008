package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/identity-import/internal/api/http"
	"github.com/spec-kit/identity-import/internal/api/http/handlers"
	"github.com/spec-kit/identity-import/internal/auth"
	"github.com/spec-kit/identity-import/internal/config"
	"github.com/spec-kit/identity-import/internal/cron"
	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/observability"
	"github.com/spec-kit/identity-import/internal/persistence"
	"github.com/spec-kit/identity-import/internal/recipe"
	"github.com/spec-kit/identity-import/internal/repository"
	"github.com/spec-kit/identity-import/internal/service"
	"github.com/spec-kit/identity-import/internal/worker"
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

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.PoolHandle() != nil {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		queueRepo   repository.ImportQueueRepository
		accountRepo repository.AccountRepository
		tenantRepo  repository.TenantRegistry
	)
	if pool := pg.PoolHandle(); pool != nil {
		queueRepo = repository.NewImportQueueRepository(pool)
		accountRepo = repository.NewAccountRepository(pool)
		tenantRepo = repository.NewTenantRegistry(pool)
	} else {
		// No database configured; run everything in memory. Useful for local
		// development, not for production.
		logger.Warn("running with in-memory storage; queued users do not survive restarts")
		queueRepo = repository.NewMemoryImportQueue()
		accountRepo = repository.NewMemoryAccountStore()
		tenantRepo = repository.NewMemoryTenantRegistry()
	}

	metrics := observability.NewMetrics()
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	recipes := recipe.NewRegistry(
		recipe.NewEmailPasswordEngine(hasher),
		recipe.NewThirdPartyEngine(),
		recipe.NewPasswordlessEngine(),
		recipe.NewWebauthnEngine(),
	)

	validator := service.NewValidator(tenantRepo, recipes)
	importer := service.NewImporterService(queueRepo, validator, cfg.Importer.MaxUsersPerRequest, logger)
	linkEngine := service.NewLinkEngine(accountRepo, tenantRepo, recipes, cfg.Importer.Capabilities, logger)

	processor := worker.NewBatchProcessor(queueRepo, linkEngine, redis.Client, metrics, logger, worker.BatchProcessorConfig{
		App:       domain.NewAppIdentifier(cfg.Importer.AppID),
		BatchSize: cfg.Importer.BatchSize,
		Workers:   cfg.Importer.Workers,
		LockTTL:   cfg.Importer.FiringLockTTL(),
	})

	scheduler := cron.NewScheduler(logger)
	scheduler.Register(processor.Task(cfg.Importer.InitialDelay(), cfg.Importer.Interval()))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	importHandler := handlers.NewImportHandler(importer)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Import:         importHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
