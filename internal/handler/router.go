package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type Services struct {
	Cart     cart.Service
	Checkout Checkouter
	Orders   order.Service
}

type RouterConfig struct {
	JWTSecret     string
	InternalToken string
	Currency      string
	// Metrics and Gatherer are optional; /metrics is mounted only with a Gatherer.
	Metrics  *metrics.Server
	Gatherer prometheus.Gatherer
}

func NewRouter(svc Services, cfg RouterConfig) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(cfg.Metrics))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	orders := NewOrderHandler(svc.Orders)

	router.Group(func(r chi.Router) {
		r.Use(PurchaserAuth([]byte(cfg.JWTSecret)))
		NewCartHandler(svc.Cart, cfg.Currency).RegisterRoutes(r)
		NewCheckoutHandler(svc.Checkout).RegisterRoutes(r)
		orders.RegisterRoutes(r)
	})

	router.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuth(cfg.InternalToken))
		orders.RegisterInternalRoutes(r)
	})

	return router
}
