package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Checkout service exited")
	}
}

// run owns every resource it opens, so its defers have finished by the time
// main reports a failure.
func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()

	log.Info().Msg("Checkout service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(cfg.Postgres); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckout(reg)
	serverMetrics := metrics.NewServer(reg, "checkout_service")

	products := catalog.NewRepository(pg.Pool)
	carts := cart.NewRepository(pg.Pool)
	orders := order.NewRepository(pg.Pool)

	notifier, closeNotifier := newNotifier(cfg)
	defer closeNotifier()

	workflow := checkout.NewWorkflow(products, carts, orders, products, notifier, checkout.Config{
		Currency:      cfg.Checkout.Currency,
		PaymentMethod: cfg.Checkout.PaymentMethod,
		PhoneRegion:   cfg.Checkout.PhoneRegion,
		StockWorkers:  cfg.Checkout.StockWorkers,
		RetryAttempts: cfg.Checkout.RetryAttempts,
		RetryInterval: cfg.Checkout.RetryInterval,
	}, checkout.WithRecorder(checkoutMetrics))

	router := handler.NewRouter(handler.Services{
		Cart:     cart.NewService(carts, products),
		Checkout: workflow,
		Orders:   order.NewService(orders),
	}, handler.RouterConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		InternalToken: cfg.Auth.InternalToken,
		Currency:      cfg.Checkout.Currency,
		Metrics:       serverMetrics,
		Gatherer:      reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
	return nil
}

// newNotifier picks Kafka when brokers are configured, then the HTTP
// notification service, and falls back to logging.
func newNotifier(cfg *config.Config) (checkout.Notifier, func()) {
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		n := notification.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Order confirmations go to Kafka")
		return n, func() {
			if err := n.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka writer")
			}
		}
	case cfg.Notify.URL != "":
		log.Info().Str("url", cfg.Notify.URL).Msg("Order confirmations go to the notification service")
		return notification.NewHTTPNotifier(cfg.Notify.URL, cfg.Notify.Timeout), func() {}
	default:
		log.Warn().Msg("No notification transport configured, confirmations are only logged")
		return notification.LogNotifier{}, func() {}
	}
}
