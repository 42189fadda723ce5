package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-service/config"
	"donation-service/internal/handler"
	"donation-service/internal/provider"
	"donation-service/internal/provider/paypal"
	"donation-service/internal/provider/stripe"
	"donation-service/internal/repository"
	"donation-service/internal/router"
	"donation-service/internal/security"
	"donation-service/internal/usecase"
	"donation-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting donation service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	// Connect to database
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("connected to database",
		zap.String("database", cfg.Database.DBName))

	// Connect to redis
	redisClient, err := cache.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka writer for donor notifications
	var notifier usecase.Notifier = usecase.NopNotifier{}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != "" {
		kafkaWriter := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		}
		defer kafkaWriter.Close()
		notifier = usecase.NewKafkaNotifier(kafkaWriter, logger)
	}

	// Initialize repositories
	donationRepo := repository.NewDonationRepository(dbPool)
	campaignRepo := repository.NewCampaignRepository(dbPool)
	receiptRepo := repository.NewReceiptRepository(dbPool)

	// Initialize fraud validation
	counterStore := security.NewRedisCounterStore(redisClient)
	rateLimiter := security.NewRateLimiter(counterStore, logger)
	validator := security.NewValidator(rateLimiter, counterStore, logger)

	// Initialize payment gateways
	stripeProvider := stripe.NewProvider(cfg.Stripe)
	paypalProvider := paypal.NewProvider(cfg.PayPal)
	registry := provider.NewRegistry(stripeProvider, paypalProvider)

	// Initialize usecases
	donationUC := usecase.NewDonationUsecase(
		donationRepo,
		campaignRepo,
		receiptRepo,
		cache.NewReceiptCache(redisClient, logger),
		validator,
		registry,
		notifier,
		logger,
		cfg.BaseURL,
	)
	failureStore := cache.NewWebhookFailureStore(redisClient, logger)
	webhookUC := usecase.NewWebhookUsecase(
		donationRepo,
		receiptRepo,
		registry,
		notifier,
		failureStore,
		logger,
	)
	recurringUC := usecase.NewRecurringUsecase(donationRepo, logger)

	// Initialize handlers
	donationHandler := handler.NewDonationHandler(donationUC, recurringUC, logger)
	webhookHandler := handler.NewWebhookHandler(webhookUC, failureStore, logger)

	// Setup routes
	r := router.SetupRoutes(donationHandler, webhookHandler, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("donation service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
