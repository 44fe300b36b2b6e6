// Package main provides the entry point for the registry indexer service:
// the ledger scan worker and the query API in one process.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/registry-indexer/internal/api"
	"github.com/registry-indexer/internal/config"
	"github.com/registry-indexer/internal/ingest"
	"github.com/registry-indexer/internal/ledger"
	"github.com/registry-indexer/internal/logging"
	"github.com/registry-indexer/internal/storage"
	"github.com/registry-indexer/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories and cache
	registryRepo := storage.NewRegistryRepository(postgres)
	eventRepo := storage.NewEventRepository(postgres)
	stateRepo := storage.NewStateRepository(postgres)
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	// Initialize the ingestion engine
	ingester := ingest.NewIngester(registryRepo, cacheService, logger)

	// Initialize the ledger RPC client
	rpcClient, err := ledger.NewRPCClient(&ledger.RPCClientConfig{
		Endpoint:       cfg.Ledger.RPCEndpoint,
		RequestTimeout: cfg.Ledger.RequestTimeout,
		RequestsPerSec: cfg.Ledger.RequestsPerSec,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ledger RPC client")
	}

	// Initialize and start the scan worker
	scanWorker, err := worker.NewScanWorker(&worker.ScanWorkerConfig{
		Client:          rpcClient,
		Events:          eventRepo,
		Cursor:          stateRepo,
		Ingester:        ingester,
		ProgramID:       cfg.Ledger.ProgramID,
		PollInterval:    cfg.Indexer.PollInterval,
		MaxSlotsPerPoll: cfg.Indexer.MaxSlotsPerPoll,
		StartSlot:       cfg.Indexer.StartSlot,
		Logger:          logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scan worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scanWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scan worker")
	}

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(serverConfig, registryRepo, eventRepo, stateRepo, ingester, scanWorker, cacheService)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the worker first so the last cursor position is persisted
	if err := scanWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scan worker did not stop cleanly")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
