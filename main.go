package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/config"
	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/eventbus"
	"github.com/metinemredonmez/senkron-ai-hub/internal/executor"
	"github.com/metinemredonmez/senkron-ai-hub/internal/health"
	"github.com/metinemredonmez/senkron-ai-hub/internal/httpapi"
	"github.com/metinemredonmez/senkron-ai-hub/internal/hub"
	"github.com/metinemredonmez/senkron-ai-hub/internal/journey"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tenantctx"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tools"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	settings, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	store := contextstore.New(settings.RedisURL, settings.HubNamespace, logger)
	defer store.Close()

	producer := eventbus.NewProducer(settings.NATSURL, logger)
	defer producer.Close()
	bus := eventbus.New(producer, store,
		settings.AgentTopicSuffix, settings.HubTopicSuffix, settings.ReplayStreamSuffix, logger)

	registryClient := registry.NewClient(settings.RegistryURL, settings.RegistryAPIKey, store, logger)
	cache := registry.NewCache(registryClient, settings.RegistryRefresh(), logger)
	tenants := tenantctx.New(store, registryClient, settings.SessionTTL(), logger)

	exec := executor.New(cache, tenants, bus, logger)
	router := hub.New(cache, exec, bus, store, tenants, logger)

	travel := tools.NewTravelClient(settings.TravelBaseURL, logger)
	cases := tools.NewCaseClient(settings.BackendBaseURL, logger)
	deps := journey.Dependencies{
		Checkpoints: journey.NewCheckpoints(store),
		Bus:         bus,
		Travel:      travel,
		Cases:       cases,
		Logger:      logger,
	}
	if settings.S3Bucket != "" && settings.S3AccessKey != "" {
		blobs, err := tools.NewBlobClient(context.Background(), tools.BlobConfig{
			Endpoint:  settings.S3Endpoint,
			Region:    settings.S3Region,
			Bucket:    settings.S3Bucket,
			AccessKey: settings.S3AccessKey,
			SecretKey: settings.S3SecretKey,
		}, logger)
		if err != nil {
			logger.Warn("Blob storage unavailable, document uploads disabled", zap.Error(err))
		} else {
			deps.Blobs = blobs
		}
	}
	engine := journey.NewEngine(deps)

	mux := http.NewServeMux()
	httpapi.NewHubHandler(router, cache, logger).RegisterRoutes(mux)
	httpapi.NewAgentsHandler(cache, exec, tenants, logger).RegisterRoutes(mux)
	httpapi.NewOrchestrateHandler(engine, logger).RegisterRoutes(mux)
	healthManager := health.NewManager(logger,
		health.NewRedisChecker(store),
		health.NewBrokerChecker(producer),
	)
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("AI Hub orchestrator listening", zap.Int("port", settings.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Warm the registry cache in the background; the first request
	// would otherwise pay for it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cache.Refresh(ctx, true); err != nil {
			logger.Warn("Initial registry refresh failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
}
