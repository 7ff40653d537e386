package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsforge/remedy-engine/internal/api"
	"github.com/opsforge/remedy-engine/internal/cache"
	"github.com/opsforge/remedy-engine/internal/config"
	"github.com/opsforge/remedy-engine/internal/engine"
	"github.com/opsforge/remedy-engine/internal/metrics"
	"github.com/opsforge/remedy-engine/internal/oracle"
	"github.com/opsforge/remedy-engine/internal/runner"
	"github.com/opsforge/remedy-engine/internal/services"
	"github.com/opsforge/remedy-engine/internal/store"
	"github.com/opsforge/remedy-engine/internal/ticket"
	"github.com/opsforge/remedy-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting remedy-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, falling back to in-memory dedupe", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.Model, cfg.Oracle.Temperature, cfg.Oracle.Timeout)
	runnerClient := runner.NewClient(cfg.Runner.BaseURL, cfg.Runner.Token, cfg.Runner.Timeout, cacheProvider, cfg.Runner.CatalogTTL)
	ticketClient := ticket.NewClient(cfg.Ticketing.BaseURL, cfg.Ticketing.Username, cfg.Ticketing.Password, cfg.Ticketing.Token, cfg.Ticketing.Timeout)
	recordStore := store.NewClient(cfg.Store.Endpoint, cfg.Store.APIKey, cfg.Store.Timeout)

	catalog, err := engine.NewCatalog(cfg.Catalog.Path, utils.Component(logger, "catalog"))
	if err != nil {
		logger.Error("failed to load playbook policy", slog.Any("error", err))
		os.Exit(1)
	}

	coordinator := engine.NewCoordinator(
		utils.Component(logger, "pipeline"),
		engine.NewIntake(utils.Component(logger, "intake"), recordStore),
		engine.NewReconciler(utils.Component(logger, "classify"), oracleClient, catalog, recordStore),
		engine.NewSelector(utils.Component(logger, "plan"), oracleClient, runnerClient, catalog, recordStore),
		engine.NewExecutor(utils.Component(logger, "execute"), runnerClient, recordStore, cfg.Executor.PollInterval, cfg.Executor.JobTimeout),
		engine.NewValidator(utils.Component(logger, "validate"), oracleClient, recordStore),
		engine.NewComposer(utils.Component(logger, "close"), oracleClient, ticketClient, recordStore),
	)

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Scheduler.Enabled {
		scheduler := services.NewScheduler(
			utils.Component(logger, "scheduler"),
			ticketClient,
			coordinator,
			cacheProvider,
			services.SchedulerOptions{
				PollInterval:     cfg.Scheduler.PollInterval,
				IncidentsPerPoll: cfg.Scheduler.IncidentsPerPoll,
				MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
				ProcessedTTL:     cfg.Scheduler.ProcessedTTL,
			},
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	server.SetNotServing()

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("remedy-engine stopped")
}
