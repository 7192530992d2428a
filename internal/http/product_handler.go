package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ProductCatalog is the read side of the local catalog cache.
type ProductCatalog interface {
	LoadCached(ctx context.Context) ([]domain.Product, error)
	Search(ctx context.Context, query string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// CatalogFeed announces every successful catalog replace.
type CatalogFeed interface {
	Subscribe(fn func([]domain.Product)) func()
}

type ProductHandler struct {
	products ProductCatalog
	feed     CatalogFeed
	carts    CartService
	timeout  time.Duration
	shutdown <-chan struct{} // ends open event streams; nil never fires
}

func NewProductHandler(products ProductCatalog, feed CatalogFeed, carts CartService, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		products: products,
		feed:     feed,
		carts:    carts,
		timeout:  timeout,
	}
}

type ProductsResponse struct {
	Products []domain.Product `json:"products"`
}

type ProductDetailResponse struct {
	domain.Product
	InCart bool `json:"in_cart"`
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		products []domain.Product
		err      error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		products, err = h.products.Search(ctx, q)
	} else {
		products, err = h.products.LoadCached(ctx)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	product, err := h.products.GetProduct(ctx, productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	inCart, err := h.carts.Contains(ctx, getSessionID(r.Context()), productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &ProductDetailResponse{Product: product, InCart: inCart})
}

// Events streams the whole catalog once on connect and again after every
// refresh.
func (h *ProductHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	updates := newLatest[[]domain.Product]()
	unsubscribe := h.feed.Subscribe(updates.put)
	defer unsubscribe()

	current, err := h.products.LoadCached(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	stream, ok := newEventStream(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}
	if err := stream.send("catalog", &ProductsResponse{Products: nonNil(current)}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case products := <-updates.ch:
			if err := stream.send("catalog", &ProductsResponse{Products: nonNil(products)}); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		}
	}
}

func nonNil(products []domain.Product) []domain.Product {
	if products == nil {
		return []domain.Product{}
	}
	return products
}
