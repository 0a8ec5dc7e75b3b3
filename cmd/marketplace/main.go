package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/service"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/tracing"
)

func main() {
	cfg := config.Load()

	logger := logging.New("marketplace-service", cfg.LogLevel)
	defer logger.Sync()

	shutdownTracing := tracing.Init("marketplace-service")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store := openStore(ctx, cfg, logger)
	defer store.Close()

	var orderCache repository.OrderCache = repository.NoopOrderCache{}
	if cfg.Features.EnableOrderCaching {
		redisClient := repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, order cache may miss", logging.Fields{"error": err.Error()})
		}
		orderCache = repository.NewRedisOrderCache(redisClient, cfg.Redis.TTL, logger)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Features.EnableOrderEvents {
		publisher = events.NewKafkaPublisher(cfg.Kafka, logger)
	}
	defer publisher.Close()

	settler := clients.NewSettler(cfg.Settlement, logger)
	notifier := clients.NewNotifier(cfg.Notification, logger)
	mailer := service.NewMailer(notifier, logger)
	validate := service.NewValidator()

	paymentService := service.NewPaymentService(
		store,
		orderCache,
		settler,
		publisher,
		mailer,
		validate,
		service.PaymentOptions{
			SettleTimeout:  cfg.Settlement.Timeout,
			PendingTTL:     cfg.Payments.PendingTTL,
			CallbackSecret: cfg.Payments.CallbackSecret,
		},
		logger,
	)

	svc := handlers.Services{
		Catalog:  service.NewCatalogService(store, mailer, validate, logger),
		Cart:     service.NewCartService(store, validate, logger),
		Checkout: service.NewCheckoutService(store, publisher, mailer, validate, cfg.Currency, logger),
		Orders:   service.NewOrderService(store, orderCache, publisher, mailer, logger),
		Payments: paymentService,
		Admin:    service.NewAdminService(store),
	}

	h := handlers.NewHandlers(svc, store, cfg, logger)
	srv := server.New(h, auth.NewVerifier(cfg.Auth.JWTSecret), cfg, logger)

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                     cfg.Server.Port,
			"store_backend":            cfg.StoreBackend,
			"settlement_mode":          cfg.Settlement.Mode,
			"enable_order_caching":     cfg.Features.EnableOrderCaching,
			"enable_order_events":      cfg.Features.EnableOrderEvents,
			"enable_callback_consumer": cfg.Features.EnableCallbackConsumer,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	go paymentService.RunExpirySweeper(ctx, cfg.Payments.SweepInterval)

	var consumer *events.CallbackConsumer
	if cfg.Features.EnableCallbackConsumer {
		consumer = events.NewCallbackConsumer(cfg.Kafka, paymentService, logger)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("Callback consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}
	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	mailer.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown failed", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) repository.Store {
	if cfg.StoreBackend == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return repository.NewMemoryStore()
	}

	pg, err := repository.OpenPostgres(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
	}
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema", logging.Fields{"error": err.Error()})
	}
	return pg
}
