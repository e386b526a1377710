package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/config"
	"github.com/lipalink/payment-service/internal/infrastructure/database"
	"github.com/lipalink/payment-service/internal/infrastructure/events"
	httpServer "github.com/lipalink/payment-service/internal/infrastructure/http"
	providerRegistry "github.com/lipalink/payment-service/internal/infrastructure/provider"
	"github.com/lipalink/payment-service/internal/usecase"
)

func main() {
	// Load .env if present; real deployments use the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	repos := database.NewRepositories(db, logger)

	// Event publisher
	publisher, err := events.NewRedisPublisher(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer publisher.Close()

	// Provider adapters
	registry, err := providerRegistry.NewRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build provider registry", zap.Error(err))
	}

	// Use cases
	fees := usecase.NewFeeCalculator(cfg.Providers, repos.Payment)
	payments := usecase.NewPaymentService(repos.Payment, registry, fees, publisher, logger)
	webhooks := usecase.NewWebhookProcessor(repos.Webhook, payments, registry, usecase.WebhookProcessorConfig{
		Workers:            cfg.Webhook.Workers,
		QueueSize:          cfg.Webhook.QueueSize,
		RetrySweepInterval: cfg.Webhook.RetrySweepInterval,
		StuckThreshold:     cfg.Webhook.StuckThreshold,
		RetentionDays:      cfg.Webhook.RetentionDays,
		CleanupInterval:    cfg.Webhook.CleanupInterval,
	}, logger)
	reconciler := usecase.NewReconciler(repos.Payment, payments, registry, cfg.Providers, cfg.Reconciliation.Interval, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background pipelines
	webhooks.Start(ctx)
	reconciler.Start(ctx)

	// HTTP server
	httpSrv := httpServer.NewServer(cfg, logger, payments, webhooks, registry, fees)

	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	// Stop the background pipelines and let in-flight work drain
	cancel()
	webhooks.Wait()
	reconciler.Wait()

	logger.Info("Shutdown complete")
}
