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

	"parking-service/config"
	"parking-service/internal/api"
	"parking-service/internal/broker"
	"parking-service/internal/gateway"
	"parking-service/internal/notify"
	"parking-service/internal/pricing"
	"parking-service/internal/redisclient"
	"parking-service/internal/service"
	"parking-service/internal/store"
	"parking-service/internal/util"
	"parking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is what both store drivers provide.
type backend interface {
	service.SpotStore
	service.SessionStore
	service.PaymentStore
	worker.EventLog
	api.Pinger
}

type closer interface {
	Close() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting parking service")

	tp, err := util.InitTracer("parking-service", cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
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

	db, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	if c, ok := db.(closer); ok {
		defer c.Close()
	}
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	readiness := map[string]api.Pinger{"store": db}

	// left as nil interfaces when Redis is off
	var (
		holder service.SpotHolder
		locker worker.Locker
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		holder, locker = redisClient, redisClient
		readiness["redis"] = redisClient
		logger.Info("Redis connected")
	}

	publisher, closePublisher := openPublisher(cfg)
	defer closePublisher()
	dispatcher := notify.NewDispatcher(broker.NewEventPublisher(publisher), cfg.Notify.Timeout)

	gw := gateway.NewRetrying(
		gateway.NewSimulator(cfg.Gateway.DeclineRate),
		cfg.Gateway.MaxAttempts,
		cfg.Gateway.RetryBackoff,
	)

	spotLocator := service.NewSpotLocator(db, holder, service.SpotLocatorOptions{
		MaxResults:            cfg.Business.MaxSearchResults,
		MaxRadiusMeters:       cfg.Business.MaxSearchRadiusMeters,
		MaxReservationMinutes: cfg.Business.MaxReservationMinutes,
	})
	sessionManager := service.NewSessionManager(db, pricing.NewCalculator(cfg.Business.MinimumCost), dispatcher, nil)
	paymentOrchestrator := service.NewPaymentOrchestrator(db, gw, dispatcher, cfg.Business.Currency, nil)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconciler := worker.NewReconciler(paymentOrchestrator, locker, worker.ReconcilerConfig{
		Interval:   cfg.Business.ReconcileInterval,
		Grace:      cfg.Business.ReconcileGrace,
		BatchSize:  cfg.Business.ReconcileBatchSize,
		RatePerSec: cfg.Business.ReconcileRatePerSec,
	})
	go func() {
		if err := reconciler.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Reconciler error", zap.Error(err))
		}
	}()

	sweeper := worker.NewExpirySweeper(spotLocator, cfg.Business.ExpirySweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Expiry sweeper error", zap.Error(err))
		}
	}()

	var notificationWorker *worker.NotificationWorker
	if cfg.Notify.Sink == "kafka" {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, db, worker.NewLogSender())
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.Server.Env != "production" {
		router.Use(gin.Logger())
	}
	handler := api.NewHandler(spotLocator, sessionManager, paymentOrchestrator, readiness)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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
	if notificationWorker != nil {
		notificationWorker.Stop()
	}
	dispatcher.Wait()

	logger.Info("Server exited")
}

func openStore(cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "postgres", "":
		db, err := store.NewStore(cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openPublisher(cfg *config.Config) (broker.Publisher, func()) {
	logger := util.GetLogger()

	switch cfg.Notify.Sink {
	case "amqp":
		p := broker.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
		logger.Info("RabbitMQ notification sink configured", zap.String("queue", cfg.AMQP.Queue))
		return p, func() { _ = p.Close() }
	case "log":
		return broker.NewLogPublisher(), func() {}
	default:
		p := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicNotifications))
		return p, func() { _ = p.Close() }
	}
}
