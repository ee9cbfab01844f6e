// Package handlers exposes the HTTP surface: checkout creation, payment
// confirmation, webhook intake, and catalog proxying.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/httpx"
	"github.com/luxprint/api/internal/services"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Catalog     services.CatalogService
	Payments    *payments.Manager
	CORSOrigins []string
	// Middlewares run after request-id assignment, outermost first.
	Middlewares []func(http.Handler) http.Handler
}

// Handlers binds the services to their routes.
type Handlers struct {
	checkout services.CheckoutService
	orders   services.OrderService
	catalog  services.CatalogService
	payments *payments.Manager
}

// NewRouter builds the chi router with the full middleware chain and routes.
func NewRouter(deps Deps) (*chi.Mux, error) {
	if deps.Checkout == nil || deps.Orders == nil || deps.Catalog == nil {
		return nil, errors.New("handlers: checkout, orders, and catalog services are required")
	}
	if deps.Payments == nil {
		return nil, errors.New("handlers: payments manager is required")
	}

	h := &Handlers{
		checkout: deps.Checkout,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		payments: deps.Payments,
	}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	for _, mw := range deps.Middlewares {
		r.Use(mw)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Stripe-Signature"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_found", "route not found", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method not allowed", http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)

	r.Post("/checkout", h.handleCreateCheckout)
	r.Post("/confirm", h.handleConfirm)
	r.Post("/webhook", h.handleWebhook)

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/product", h.handleGetProduct)
		r.Get("/variants", h.handleGetVariants)
	})

	return r, nil
}
