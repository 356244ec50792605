package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/handlers"
	"github.com/ekaya-inc/ekaya-probe/pkg/middleware"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
	"github.com/ekaya-inc/ekaya-probe/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath   string
	debugLogging bool

	scanBatchSize int
	scanShort     bool

	newServer models.RemoteServer
	authType  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ekaya-probe",
		Short:         "Discover API endpoints on remote servers and monitor their health",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monitoring scheduler",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	discoverCmd := &cobra.Command{
		Use:   "discover [server-id]",
		Short: "Fetch a server's API schema and store its endpoints",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscover,
	}

	scanCmd := &cobra.Command{
		Use:   "scan [server-id]",
		Short: "Probe every active endpoint of a server",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}
	scanLocalCmd := &cobra.Command{
		Use:   "scan-local",
		Short: "Probe this service's registered endpoints",
		Args:  cobra.NoArgs,
		RunE:  runScanLocal,
	}
	for _, cmd := range []*cobra.Command{scanCmd, scanLocalCmd} {
		cmd.Flags().IntVar(&scanBatchSize, "batch-size", 0, "Probes per chunk (default from config, at most probe.max_batch_size)")
		cmd.Flags().BoolVar(&scanShort, "short", false, "Use the short per-probe timeout")
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage monitored servers",
	}
	serverAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a remote server",
		Args:  cobra.NoArgs,
		RunE:  runServerAdd,
	}
	serverAddCmd.Flags().StringVar(&newServer.Name, "name", "", "Unique server name")
	serverAddCmd.Flags().StringVar(&newServer.BaseURL, "base-url", "", "Base URL of the server")
	serverAddCmd.Flags().StringVar(&newServer.Description, "description", "", "Description")
	serverAddCmd.Flags().StringVar(&authType, "auth-type", string(models.AuthTypeNone), "Authentication type (none, basic, bearer-token, api-key)")
	serverAddCmd.Flags().StringVar(&newServer.Username, "username", "", "Username for basic or bearer-token auth")
	serverAddCmd.Flags().StringVar(&newServer.Password, "password", "", "Password for basic or bearer-token auth")
	serverAddCmd.Flags().StringVar(&newServer.APIKey, "api-key", "", "API key for api-key auth")
	serverAddCmd.Flags().StringVar(&newServer.TokenEndpoint, "token-endpoint", "", "Token endpoint for bearer-token auth")
	serverAddCmd.Flags().StringVar(&newServer.HealthCheckURL, "health-check-url", "", "Status check path (default /health)")
	_ = serverAddCmd.MarkFlagRequired("name")
	_ = serverAddCmd.MarkFlagRequired("base-url")

	serverCheckCmd := &cobra.Command{
		Use:   "check [server-id]",
		Short: "Request a server's health URL and record its status",
		Args:  cobra.ExactArgs(1),
		RunE:  runServerCheck,
	}
	serverCmd.AddCommand(serverAddCmd, serverCheckCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, discoverCmd, scanCmd, scanLocalCmd, serverCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseServerArg(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid server id %q: %w", arg, err)
	}
	return id, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	monitoringHandler := handlers.NewMonitoringHandler(a.monitoring, logger)
	routes := append(healthHandler.Routes(), monitoringHandler.Routes()...)
	openAPIHandler := handlers.NewOpenAPIHandler(cfg.Version, routes, logger)
	routes = append(routes, openAPIHandler.Routes()...)

	err = a.withScope(ctx, func(ctx context.Context) error {
		// The local-system server is seeded by migration; point it at this process.
		if err := a.serverRepo.UpdateBaseURL(ctx, models.LocalSystemServerID, cfg.BaseURL); err != nil {
			return fmt.Errorf("failed to set local-system base url: %w", err)
		}
		_, err := services.SyncRegisteredEndpoints(ctx, a.registeredRepo, handlers.RegisteredRoutes(routes), logger)
		return err
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	healthHandler.RegisterRoutes(mux)
	monitoringHandler.RegisterRoutes(mux, handlers.ScopeMiddleware(database.WithScopeContext(a.db, logger)))
	openAPIHandler.RegisterRoutes(mux)

	if cfg.Scheduler.Enabled {
		services.NewMonitoringScheduler(a.scopes, a.serverRepo, a.monitoring, logger).
			Run(ctx, cfg.Scheduler.Interval)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting ekaya-probe",
		zap.String("addr", srv.Addr),
		zap.String("base_url", cfg.BaseURL),
		zap.String("version", cfg.Version),
		zap.Bool("scheduler", cfg.Scheduler.Enabled))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return database.MigrateURL(cfg.Database.ConnectionString(), logger)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	serverID, err := parseServerArg(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withScope(ctx, func(ctx context.Context) error {
		result, err := a.monitoring.DiscoverAndStore(ctx, serverID)
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	serverID, err := parseServerArg(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withScope(ctx, func(ctx context.Context) error {
		results, err := a.monitoring.Scan(ctx, serverID, services.ScanOptions{BatchSize: scanBatchSize, Short: scanShort})
		if len(results) > 0 {
			if perr := printJSON(results); perr != nil {
				return perr
			}
		}
		return err
	})
}

func runScanLocal(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withScope(ctx, func(ctx context.Context) error {
		results, err := a.monitoring.ScanLocal(ctx, services.ScanOptions{BatchSize: scanBatchSize, Short: scanShort})
		if len(results) > 0 {
			if perr := printJSON(results); perr != nil {
				return perr
			}
		}
		return err
	})
}

func runServerAdd(cmd *cobra.Command, args []string) error {
	newServer.AuthType = models.AuthType(authType)
	if !newServer.AuthType.Valid() {
		return fmt.Errorf("unknown auth type %q", authType)
	}
	newServer.IsActive = true

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withScope(ctx, func(ctx context.Context) error {
		if err := a.serverRepo.Create(ctx, &newServer); err != nil {
			return fmt.Errorf("failed to add server: %w", err)
		}
		return printJSON(&newServer)
	})
}

func runServerCheck(cmd *cobra.Command, args []string) error {
	serverID, err := parseServerArg(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withScope(ctx, func(ctx context.Context) error {
		server, err := a.monitoring.CheckServerStatus(ctx, serverID)
		if err != nil {
			return err
		}
		return printJSON(server)
	})
}
