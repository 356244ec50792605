package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/adapters/openapi"
	"github.com/ekaya-inc/ekaya-probe/pkg/config"
	"github.com/ekaya-inc/ekaya-probe/pkg/credentials"
	"github.com/ekaya-inc/ekaya-probe/pkg/crypto"
	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/logging"
	"github.com/ekaya-inc/ekaya-probe/pkg/probe"
	"github.com/ekaya-inc/ekaya-probe/pkg/repositories"
	"github.com/ekaya-inc/ekaya-probe/pkg/services"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client
	scopes *database.ScopeProvider

	serverRepo     repositories.RemoteServerRepository
	endpointRepo   repositories.DiscoveredEndpointRepository
	registeredRepo repositories.RegisteredEndpointRepository
	monitoring     services.MonitoringService
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(configPath, Version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.IsLocal(), debugLogging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp connects to Postgres (and Redis when configured), applies
// migrations and builds the service graph.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryption: %w", err)
	}

	connURL := cfg.Database.ConnectionString()
	logger.Info("Connecting to database",
		zap.String("url", logging.SanitizeConnectionString(connURL)))

	db, err := database.Connect(ctx, &database.Config{
		URL:            connURL,
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.MigrateURL(connURL, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}
	if redisClient == nil {
		logger.Info("Redis not configured; scan locks are process-local")
	}

	serverRepo := repositories.NewRemoteServerRepository(encryptor)
	endpointRepo := repositories.NewDiscoveredEndpointRepository()
	registeredRepo := repositories.NewRegisteredEndpointRepository()
	healthRepo := repositories.NewEndpointHealthRepository()

	provider := credentials.NewProvider(serverRepo, cfg.Credentials, logger)

	monitoring := services.NewMonitoringService(services.MonitoringDeps{
		ServerRepo:     serverRepo,
		EndpointRepo:   endpointRepo,
		RegisteredRepo: registeredRepo,
		Discoverer:     openapi.NewDiscoverer(provider, cfg.Discovery, logger),
		Reconciler:     services.NewEndpointReconciler(endpointRepo, logger),
		Ledger:         services.NewHealthLedger(healthRepo),
		Runner:         probe.NewRunner(cfg.Probe, logger),
		Credentials:    provider,
		Lock:           services.NewScanLock(redisClient, services.DefaultScanLeaseTTL, logger),
	}, cfg.Probe, cfg.BaseURL, logger)

	return &app{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		redis:          redisClient,
		scopes:         database.NewScopeProvider(db),
		serverRepo:     serverRepo,
		endpointRepo:   endpointRepo,
		registeredRepo: registeredRepo,
		monitoring:     monitoring,
	}, nil
}

// withScope runs fn with a database scope attached to ctx.
func (a *app) withScope(ctx context.Context, fn func(ctx context.Context) error) error {
	scoped, cleanup, err := a.scopes.WithScope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer cleanup()
	return fn(scoped)
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.db.Close()
	_ = a.logger.Sync()
}
