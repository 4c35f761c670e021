package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sbtc-gateway/config"
	httpHandler "sbtc-gateway/internal/adapter/http/handler"
	pgStorage "sbtc-gateway/internal/adapter/storage/postgres"
	redisStorage "sbtc-gateway/internal/adapter/storage/redis"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/internal/service"
	"sbtc-gateway/internal/worker"
	"sbtc-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting sBTC Gateway")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	intentRepo := pgStorage.NewPaymentIntentRepo(pool)
	endpointRepo := pgStorage.NewWebhookEndpointRepo(pool)
	eventRepo := pgStorage.NewWebhookEventRepo(pool)

	// Initialize Redis stores
	retryQueue := redisStorage.NewRetryQueue(rdb)
	seenTxCache := redisStorage.NewSeenTxCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize the delivery pipeline
	deliverySvc := service.NewDeliveryService(eventRepo, endpointRepo, merchantRepo, encSvc, sigSvc, retryQueue, log)
	dispatchSvc := service.NewDispatchService(endpointRepo, merchantRepo, eventRepo, deliverySvc, log)
	endpointSvc := service.NewEndpointService(endpointRepo, merchantRepo, encSvc, dispatchSvc, log)

	// Initialize the chain intake pipeline
	matcherSvc := service.NewMatcherService(intentRepo, log)
	transitionSvc := service.NewTransitionService(intentRepo, dispatchSvc, log)
	ingestSvc := service.NewIngestService(matcherSvc, transitionSvc, seenTxCache, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Start the retry worker: recover queue entries lost to the last
	// restart, then poll for due retries.
	retryWorker := worker.NewRetryWorker(
		retryQueue,
		eventRepo,
		deliverySvc,
		cfg.Webhook.PollInterval,
		cfg.Webhook.RecoveryBatchSize,
		cfg.Webhook.Workers,
		log,
	)
	if err := retryWorker.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Retry recovery sweep failed; pending retries stay parked until restart")
	}
	workerCtx, stopWorker := context.WithCancel(ctx)
	retryWorker.Start(workerCtx)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:      ingestSvc,
		EndpointSvc:    endpointSvc,
		EventRepo:      eventRepo,
		IntentRepo:     intentRepo,
		TokenSvc:       tokenSvc,
		ChainhookToken: cfg.Chainhook.Token,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight deliveries before closing the stores.
	stopWorker()
	retryWorker.Stop()

	log.Info().Msg("Server exited")
}
