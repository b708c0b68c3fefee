package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/store/memory"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	seed := flag.Bool("seed", false, "load the demo catalog before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service",
		zap.String("env", cfg.Server.Env),
		zap.String("store", cfg.Database.Driver))

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	readiness := map[string]func(context.Context) error{}

	var txm store.TxManager
	switch cfg.Database.Driver {
	case "memory":
		mem := memory.New()
		if *seed {
			for _, p := range demoCatalog(cfg.Business.Currency) {
				mem.SeedProduct(p)
			}
		}
		txm = mem
		logger.Warn("Using in-memory store; state is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected")

		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		if *migrateOnly {
			logger.Info("Migrations applied")
			return
		}
		if *seed {
			for _, p := range demoCatalog(cfg.Business.Currency) {
				if err := db.SeedProduct(p.ID, p.FarmerID, p.Name, p.UnitPrice.Amount, p.UnitPrice.Currency, p.Available, p.Location); err != nil {
					logger.Fatal("Failed to seed catalog", zap.String("product_id", p.ID), zap.Error(err))
				}
			}
		}
		txm = db
		readiness["postgres"] = func(ctx context.Context) error { return db.GetDB().PingContext(ctx) }
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	readiness["redis"] = func(ctx context.Context) error { return redisClient.GetClient().Ping(ctx).Err() }
	logger.Info("Redis connected")

	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, broker.ProducerOptions{Async: cfg.Kafka.AsyncWrites})
	defer notificationProducer.Close()
	gatewayProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicGatewayEvents, broker.ProducerOptions{})
	defer gatewayProducer.Close()
	logger.Info("Kafka producers initialized")

	paymentGateway, err := newPaymentGateway(cfg, broker.NewGatewayPublisher(gatewayProducer))
	if err != nil {
		logger.Fatal("Failed to create payment gateway", zap.Error(err))
	}

	locker := redisclient.NewLocker(redisClient, cfg.Business.LockTTL)
	orchestrator := service.NewOrchestrator(txm, locker, broker.NewEventPublisher(notificationProducer), paymentGateway, service.Options{
		FeeRate:  decimal.NewNullDecimal(cfg.Business.FeeRate),
		Currency: cfg.Business.Currency,
	})
	carts := service.NewCartService(txm, locker, nil)

	resolver, err := identity.NewResolver(identity.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer})
	if err != nil {
		logger.Fatal("Failed to create identity resolver", zap.Error(err))
	}

	workers := worker.NewGroup(
		worker.NewPaymentWorker(broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.PaymentGroup), orchestrator),
		worker.NewGatewayWorker(broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicGatewayEvents, cfg.Kafka.GatewayGroup), orchestrator, redisClient),
	)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go func() {
		if err := workers.Run(workerCtx); err != nil {
			logger.Error("Worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orchestrator, carts, resolver, api.Options{
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Deduper:       redisClient,
		Readiness:     readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := workers.Stop(); err != nil {
		logger.Error("Error stopping workers", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newPaymentGateway(cfg *config.Config, publisher *broker.GatewayPublisher) (service.PaymentGateway, error) {
	if cfg.Gateway.Sandbox {
		util.GetLogger().Warn("Using sandbox payment gateway")
		return gateway.NewSandbox(publisher, cfg.Gateway.SandboxConfirmIn), nil
	}
	client, err := gateway.NewClient(cfg.Gateway.URL,
		gateway.WithAPIKey(cfg.Gateway.APIKey),
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithBreaker(gateway.BreakerSettings{
			FailureRatio: cfg.Gateway.BreakerFailureRatio,
			MinRequests:  cfg.Gateway.BreakerMinRequests,
			OpenTimeout:  cfg.Gateway.BreakerOpenTimeout,
		}),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// demoCatalog is a small sandbox catalog for local runs.
func demoCatalog(currency string) []models.Product {
	return []models.Product{
		{ID: "tomatoes", FarmerID: "farmer-1", Name: "Tomatoes", UnitPrice: models.NewMoney(150, currency), Available: 500, Location: "Kisii farm"},
		{ID: "kale", FarmerID: "farmer-1", Name: "Kale", UnitPrice: models.NewMoney(40, currency), Available: 300, Location: "Kisii farm"},
		{ID: "avocados", FarmerID: "farmer-2", Name: "Hass Avocados", UnitPrice: models.NewMoney(25, currency), Available: 1000, Location: "Murang'a orchard"},
	}
}
