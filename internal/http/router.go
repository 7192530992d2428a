package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	maxRequestBodySize    = 1 << 20 // 1MB
	defaultRequestTimeout = 30 * time.Second
)

type RouterConfig struct {
	Products       ProductCatalog
	Feed           CatalogFeed
	Carts          CartService
	Checkout       CheckoutService
	RequestTimeout time.Duration
	Logger         *zap.Logger
	// Shutdown, when closed, ends all event streams so the server can drain.
	Shutdown <-chan struct{}
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	productHandler := NewProductHandler(cfg.Products, cfg.Feed, cfg.Carts, cfg.RequestTimeout)
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.RequestTimeout)
	productHandler.shutdown = cfg.Shutdown
	cartHandler.shutdown = cfg.Shutdown

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)
		timeout := middleware.Timeout(cfg.RequestTimeout)

		r.Route("/products", func(r chi.Router) {
			// streams stay open past the request timeout
			r.Get("/events", productHandler.Events)
			r.With(timeout).Get("/", productHandler.List)
			r.With(timeout).Get("/{id}", productHandler.Get)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/events", cartHandler.Events)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Post("/items/{product_id}/increase", cartHandler.IncreaseItem)
				r.Post("/items/{product_id}/decrease", cartHandler.DecreaseItem)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})
		})

		r.With(timeout).Post("/checkout", checkoutHandler.Checkout)
	})

	return otelhttp.NewHandler(r, "storefront")
}
