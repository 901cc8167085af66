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

	"paragon-service/config"
	"paragon-service/internal/api"
	"paragon-service/internal/broker"
	"paragon-service/internal/docstore"
	"paragon-service/internal/identity"
	"paragon-service/internal/redisclient"
	"paragon-service/internal/service"
	"paragon-service/internal/social"
	"paragon-service/internal/util"
	"paragon-service/internal/worker"

	"github.com/gin-gonic/gin"
)

// changeForwarder fans document store changes out to the other
// instances via redis pub/sub. The local hub is already notified
// directly by the store.
type changeForwarder struct {
	redis *redisclient.Client
}

func (f *changeForwarder) Notify(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.redis.PublishChange(ctx, collection); err != nil {
		util.GetLogger().Warn("Failed to publish change notification")
	}
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting paragon service")

	tp, err := util.InitTracer("paragon-service", cfg.Observ.JaegerEndpoint)
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

	store, err := docstore.NewPostgres(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	log.Println("Database connected")

	hub := docstore.NewHub(store)
	defer hub.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	store.AddListener(&changeForwarder{redis: redisClient})

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	go func() {
		if err := redisClient.SubscribeChanges(subCtx, hub.Notify); err != nil && subCtx.Err() == nil {
			logger.Warn("Change subscription ended, cross-instance live views degraded")
		}
	}()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	idm := identity.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AdminEmail, store)

	catalogService := service.NewCatalogService(store, hub, eventPublisher)
	ticketService := service.NewTicketService(store, hub, redisClient, eventPublisher)
	messageService := service.NewMessageService(store, hub, eventPublisher)
	analyticsService := service.NewAnalyticsService(store)
	contentService := service.NewContentService(store, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, store)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	socialRegistry := social.NewRegistry(cfg.Social)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		catalogService,
		ticketService,
		messageService,
		analyticsService,
		contentService,
		idm,
		socialRegistry,
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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
	if err := notificationWorker.Stop(); err != nil {
		log.Printf("Notification worker stop error: %v", err)
	}

	log.Println("Server exited")
}
