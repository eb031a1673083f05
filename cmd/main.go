package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akylbek/payment-system/payment-reconciler/internal/api"
	"github.com/akylbek/payment-system/payment-reconciler/internal/config"
	"github.com/akylbek/payment-system/payment-reconciler/internal/events"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/handlers"
	"github.com/akylbek/payment-system/payment-reconciler/internal/lock"
	"github.com/akylbek/payment-system/payment-reconciler/internal/repository"
	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	statementDescriptor = "DOA REPARTOS"
	ledgerConsumerGroup = "payment-reconciler-ledger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry(cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	logger := telemetry.Logger
	logger.Info("Starting Payment Reconciler")

	if cfg.GatewayAccessToken == "" {
		logger.Fatal("MERCADOPAGO_ACCESS_TOKEN is not configured")
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.InitDB(initCtx, db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	initCancel()

	payments := repository.NewPaymentRepository(db)
	orders := repository.NewOrderRepository(db)
	debts := repository.NewDebtRepository(db)
	ledgerEntries := repository.NewLedgerRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	// Connect to Kafka
	statusWriter := events.NewStatusWriter(cfg.KafkaBrokers)
	defer statusWriter.Close()

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAccessToken, cfg.GatewayTimeout, logger)

	reconciler := service.NewReconciler(
		payments,
		orders,
		debts,
		gw,
		lock.NewRedisLocker(redisClient, logger),
		events.NewKafkaPublisher(statusWriter),
		cfg.LockTTL,
		logger,
	)
	checkout := service.NewCheckoutService(payments, orders, debts, gw, service.CheckoutConfig{
		Currency:            cfg.Currency,
		WebhookURL:          cfg.WebhookURL(),
		StatementDescriptor: statementDescriptor,
	}, logger)

	// Book the revenue split of delivered orders
	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	deliveredReader := events.NewOrderDeliveredReader(cfg.KafkaBrokers, ledgerConsumerGroup)
	ledger := service.NewLedger(orders, ledgerEntries, logger)
	go ledger.ConsumeDeliveries(consumeCtx, deliveredReader)

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	subscriber := handlers.NewNotificationSubscriber(reconciler, cfg.GatewayTimeout*3, logger)
	if _, err := subscriber.Subscribe(nc); err != nil {
		logger.Fatal("Failed to subscribe to relayed notifications", zap.Error(err))
	}

	// gRPC health endpoint for the mesh
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC health server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	// Setup HTTP server
	router := api.NewRouter(
		handlers.NewWebhookHandler(reconciler, logger),
		handlers.NewPaymentHandler(checkout, payments, logger),
	)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Payment Reconciler starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
	stopConsuming()
	if err := deliveredReader.Close(); err != nil {
		logger.Warn("Failed to close Kafka reader", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("Server exited")
}
