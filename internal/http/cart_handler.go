package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// CartService is the session cart API the handlers drive.
type CartService interface {
	Add(ctx context.Context, sessionID string, productID int64) (bool, error)
	Increase(ctx context.Context, sessionID string, productID int64) error
	Decrease(ctx context.Context, sessionID string, productID int64) error
	Remove(ctx context.Context, sessionID string, productID int64) error
	Clear(ctx context.Context, sessionID string) error
	Contains(ctx context.Context, sessionID string, productID int64) (bool, error)
	Get(ctx context.Context, sessionID string) (domain.CartSummary, error)
	Subscribe(ctx context.Context, sessionID string, fn func(domain.CartSummary)) (func(), error)
}

type CartHandler struct {
	carts    CartService
	timeout  time.Duration
	shutdown <-chan struct{} // ends open event streams; nil never fires
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
}

type CartItemResponse struct {
	Product  domain.Product  `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	SessionID string             `json:"session_id"`
	Items     []CartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Total     decimal.Decimal    `json:"total"`
}

func toCartResponse(summary domain.CartSummary) *CartResponse {
	resp := &CartResponse{
		SessionID: summary.SessionID,
		Items:     make([]CartItemResponse, len(summary.Items)),
		Total:     summary.Total,
	}
	for i, item := range summary.Items {
		resp.Items[i] = CartItemResponse{
			Product:  item.Product,
			Quantity: item.Quantity,
			Subtotal: item.Subtotal(),
		}
		resp.ItemCount += item.Quantity
	}
	return resp
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.respondCart(ctx, w, http.StatusOK, getSessionID(r.Context()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	sessionID := getSessionID(r.Context())
	added, err := h.carts.Add(ctx, sessionID, req.ProductID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !added {
		respondError(w, http.StatusConflict, "already_in_cart", "product is already in the cart")
		return
	}

	h.respondCart(ctx, w, http.StatusCreated, sessionID)
}

func (h *CartHandler) IncreaseItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Increase)
}

func (h *CartHandler) DecreaseItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Decrease)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.Remove)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if err := h.carts.Clear(ctx, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.respondCart(ctx, w, http.StatusOK, sessionID)
}

// Events streams the session cart: once on connect, then after every change.
func (h *CartHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := getSessionID(ctx)

	updates := newLatest[domain.CartSummary]()
	unsubscribe, err := h.carts.Subscribe(ctx, sessionID, updates.put)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer unsubscribe()

	current, err := h.carts.Get(ctx, sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	stream, ok := newEventStream(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}
	if err := stream.send("cart", toCartResponse(current)); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case summary := <-updates.ch:
			if err := stream.send("cart", toCartResponse(summary)); err != nil {
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

func (h *CartHandler) mutateItem(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int64) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	sessionID := getSessionID(r.Context())
	if err := op(ctx, sessionID, productID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.respondCart(ctx, w, http.StatusOK, sessionID)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, status int, sessionID string) {
	summary, err := h.carts.Get(ctx, sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, status, toCartResponse(summary))
}
