package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/api"
	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/loader"
	"github.com/solatis/cascade/internal/core/server"
	"github.com/solatis/cascade/internal/metrics"
	"github.com/solatis/cascade/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and the collector gRPC API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "gRPC server host (overrides api.host)")
	serveCmd.Flags().Int("port", 0, "gRPC server port (overrides api.port)")
	serveCmd.Flags().String("rules-dir", "", "rules directory (overrides engine.rules_dir)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.API.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("rules-dir") {
		cfg.Engine.RulesDir, _ = cmd.Flags().GetString("rules-dir")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.API.Auth && cfg.DB.URL == "" {
		return fmt.Errorf("api.auth requires db.url for API key lookup (or set api.auth=false)")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.Init(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	m := metrics.New()

	var queries *db.Queries
	if cfg.DB.URL != "" {
		var database *sqlx.DB
		database, queries, err = openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := requireMigrated(database); err != nil {
			return err
		}
	}

	var authenticator *auth.Authenticator
	if cfg.API.Auth {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set CASCADE_HMAC_SECRET environment variable)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries, m)
	}

	rt, err := newRuntime(ctx, cfg, queries, m, logger)
	if err != nil {
		return err
	}
	abort := func(err error) error {
		_ = rt.pipeline.Shutdown(context.Background())
		return err
	}

	svc, err := api.NewCollectorService(rt.pipeline, rt.reloader, m, logger)
	if err != nil {
		return abort(err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.API, svc, authenticator, m, logger)
	if err != nil {
		return abort(fmt.Errorf("failed to create server: %w", err))
	}

	serveErrCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Start(ctx); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Addr != "" {
		metricsServer = server.NewMetricsServer(cfg.Metrics.Addr, m.Handler(), logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				serveErrCh <- err
			}
		}()
	}

	if cfg.Engine.HotReload {
		go func() {
			if err := loader.Watch(ctx, cfg.Engine.RulesDir, cfg.Engine.ReloadDebounce, rt.reloader, logger); err != nil {
				logger.Error("rules watcher stopped", "error", err)
			}
		}()
	}

	// SIGHUP reloads rules from the configured source.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				_, _ = rt.reloader.Reload(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("cascade started",
		"version", Version, "grpc_addr", cfg.API.Addr(), "metrics_addr", cfg.Metrics.Addr,
		"rules_source", rt.reloader.Source().String(), "generation", rt.engine.Generation())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	// drains queued events, then closes executors
	if err := rt.pipeline.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown pipeline: %w", err))
	}

	if serveErr != nil {
		return serveErr
	}
	return errors.Join(errs...)
}

// requireMigrated fails when an embedded migration has not been applied.
func requireMigrated(database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'cascade migrate up' first", s.ID)
		}
	}
	return nil
}
