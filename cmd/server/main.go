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

	"order-engine/config"
	"order-engine/internal/api"
	"order-engine/internal/broker"
	"order-engine/internal/redisclient"
	"order-engine/internal/service"
	"order-engine/internal/store"
	"order-engine/internal/util"
	"order-engine/internal/worker"

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
	logger.Info("Starting order engine")

	tp, err := util.InitTracer("order-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		log.Println("Database schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	inventory := service.NewInventory(db)
	cartService := service.NewCartService(db, inventory, redisClient, cfg.Business.MaxCartQuantity, cfg.Business.CartLockTTL)
	orderService := service.NewOrderService(db, inventory, redisClient, cfg.Business.IdempotencyTTL)
	lifecycleService := service.NewLifecycleService(db, inventory)
	users := service.NewUserDirectory(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	relay := worker.NewOutboxRelay(db, producer, cfg.Business.OutboxPollInterval, cfg.Business.OutboxBatchSize)
	go func() {
		if err := relay.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Outbox relay error", zap.Error(err))
		}
	}()

	statusConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicStatusCommands, cfg.Kafka.ConsumerGroup)
	statusWorker := worker.NewStatusWorker(statusConsumer, lifecycleService, db)
	go func() {
		if err := statusWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Status worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(cartService, orderService, lifecycleService, users, cfg.Auth.JWTSecret, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := statusWorker.Stop(); err != nil {
		log.Printf("Error stopping status worker: %v", err)
	}

	log.Println("Server exited")
}
