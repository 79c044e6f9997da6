package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"egg-market/config"
	"egg-market/internal/api"
	"egg-market/internal/auth"
	"egg-market/internal/broker"
	"egg-market/internal/redisclient"
	"egg-market/internal/service"
	"egg-market/internal/store"
	"egg-market/internal/util"
	"egg-market/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting egg market", zap.String("env", cfg.Server.Env))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.RunMigrations {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	checks := map[string]api.Pinger{"postgres": db}

	// Redis is optional: without it orders skip idempotency and tracking
	// reads go straight to the database.
	var idem service.IdempotencyStore
	var cache service.DeliveryCache
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
	} else {
		defer redisClient.Close()
		idem, cache = redisClient, redisClient
		checks["redis"] = redisClient
		logger.Info("Redis connected")
	}

	var events service.EventPublisher = broker.NopPublisher{}
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notifications *worker.NotificationWorker
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		notifications = worker.NewNotificationWorker(consumer, worker.NewLogNotifier())
		go func() {
			if err := notifications.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(db, tokens)
	services := api.Services{
		Auth:       authService,
		Catalog:    service.NewCatalogService(db),
		Orders:     service.NewOrderService(db, service.NewInventory(), events, idem, cfg.Business),
		Payments:   service.NewPaymentService(db, events),
		Deliveries: service.NewDeliveryService(db, events, cache, cfg.Business),
		Ratings:    service.NewRatingService(db),
		Admin:      service.NewAdminService(db, events, authService),
		Stats:      service.NewStatsService(db),
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if notifications != nil {
		if err := notifications.Stop(); err != nil {
			logger.Warn("Error stopping notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
