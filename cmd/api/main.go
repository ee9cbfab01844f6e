package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luxprint/api/internal/fulfillment"
	"github.com/luxprint/api/internal/handlers"
	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/config"
	"github.com/luxprint/api/internal/platform/idempotency"
	"github.com/luxprint/api/internal/platform/observability"
	"github.com/luxprint/api/internal/platform/requestctx"
	"github.com/luxprint/api/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeSecretKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        eventLogger(logger),
	})
	if err != nil {
		return err
	}
	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		return err
	}

	fulfillmentClient, err := fulfillment.NewClient(fulfillment.Config{
		Token:       cfg.Fulfillment.Token,
		OrdersToken: cfg.Fulfillment.OrdersToken,
		StoreID:     cfg.Fulfillment.StoreID,
		BaseURLV1:   cfg.Fulfillment.BaseURLV1,
		BaseURLV2:   cfg.Fulfillment.BaseURLV2,
		Logger:      eventLogger(logger),
	})
	if err != nil {
		return err
	}

	allowlist, err := regexp.Compile(cfg.Files.URLAllowlist)
	if err != nil {
		return err
	}

	pricing := services.NewPricingEngine(services.PricingSettings{
		Enforce:     cfg.Pricing.Enforce,
		FXMode:      cfg.Pricing.FXMode,
		FixedFX:     cfg.Pricing.FixedFX,
		MarginPct:   cfg.Pricing.MarginPct,
		MarginFixed: cfg.Pricing.MarginFixed,
		RoundTo:     cfg.Pricing.RoundTo,
		Currency:    cfg.Pricing.Currency,
	})
	cartCodec := services.NewChunkCodec("cart", cfg.Metadata.ChunkSize, cfg.Metadata.MaxFields)
	lineCodec := services.NewChunkCodec("designs", cfg.Metadata.ChunkSize, cfg.Metadata.MaxFields)

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Payments:          manager,
		Pricing:           pricing,
		CartCodec:         cartCodec,
		LineCodec:         lineCodec,
		StoreID:           cfg.Fulfillment.StoreID,
		SuccessURL:        cfg.Checkout.SuccessURL,
		CancelURL:         cfg.Checkout.CancelURL,
		ShippingCountries: cfg.Checkout.ShippingCountries,
		Logger:            eventLogger(logger),
	})
	if err != nil {
		return err
	}

	idemStore := idempotency.NewMemoryStore()
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Payments:           manager,
		Fulfillment:        fulfillmentClient,
		CartCodec:          cartCodec,
		LineCodec:          lineCodec,
		FileURLAllowlist:   allowlist,
		Idempotency:        idemStore,
		IdempotencyTTL:     cfg.Idempotency.TTL,
		PackingSlipMessage: cfg.Fulfillment.PackingSlipMessage,
		Logger:             eventLogger(logger),
	})
	if err != nil {
		return err
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Fulfillment: fulfillmentClient,
		Logger:      eventLogger(logger),
	})
	if err != nil {
		return err
	}

	router, err := handlers.NewRouter(handlers.Deps{
		Checkout:    checkoutService,
		Orders:      orderService,
		Catalog:     catalogService,
		Payments:    manager,
		CORSOrigins: cfg.CORS.Origins,
		Middlewares: []func(http.Handler) http.Handler{
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		},
	})
	if err != nil {
		return err
	}

	go cleanupLoop(ctx, logger, idemStore, cfg.Idempotency)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// cleanupLoop evicts expired idempotency reservations on a fixed cadence.
func cleanupLoop(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), cfg.CleanupBatchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

// eventLogger adapts the zap logger to the event-style logging contract the
// service and client layers use, preferring the request-scoped logger.
func eventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zapFields = append(zapFields, zap.Any(k, v))
		}
		logger.Info(event, zapFields...)
	}
}
