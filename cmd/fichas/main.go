// Command fichas runs the billing and client-registry backend.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/api"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/billing"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/config"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/middleware"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/storage"
)

const serviceVersion = "1.0.0"

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.OTel.Enabled,
		Endpoint:       cfg.OTel.Endpoint,
		ServiceName:    "fichas",
		ServiceVersion: serviceVersion,
		Insecure:       cfg.OTel.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up opentelemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			logger.WithError(err).Warn("opentelemetry shutdown failed")
		}
	}()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := storage.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	metrics := observability.NewMetrics()
	clientSvc := clients.NewPostgresService(db)

	var billingSvc billing.Service = billing.NewPostgresService(db, clientSvc, logger, metrics)
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		billingSvc = billing.NewCachedService(billingSvc, redisClient, cfg.Redis.SummaryTTL, logger)
		logger.Info("summary cache enabled")
	}

	tokenStore := auth.NewStore(db)
	authMW := middleware.NewAuthMiddleware(tokenStore, cfg.Auth.BootstrapAdminToken)
	if cfg.Auth.BootstrapAdminToken != "" {
		logger.Warn("bootstrap admin token is enabled; issue a real admin token and unset it")
	}

	server := api.NewServer(billingSvc, clientSvc, tokenStore, authMW, logger, metrics)

	apiSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthHandler(db)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", metrics.Handler())
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	var sweeper *cron.Cron
	if cfg.Sweep.Enabled {
		sweeper = cron.New()
		_, err := sweeper.AddFunc(cfg.Sweep.Schedule, func() {
			created, err := billingSvc.EnsureCurrentPeriods(context.Background())
			if err != nil {
				logger.WithError(err).Error("scheduled sweep finished with errors")
			}
			logger.WithField("created", created).Info("scheduled sweep finished")
		})
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", cfg.Sweep.Schedule, err)
		}
		sweeper.Start()
		logger.WithField("schedule", cfg.Sweep.Schedule).Info("period sweep scheduled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiSrv.Addr).Info("api server listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthSrv.Addr).Info("health server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		if sweeper != nil {
			<-sweeper.Stop().Done()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown failed")
		}
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	return g.Wait()
}
