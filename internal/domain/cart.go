package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one product-plus-quantity line in a cart. Quantity is always >= 1.
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the persisted shape of a session cart.
type Cart struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartSummary is the read model handed to consumers of a session cart.
type CartSummary struct {
	SessionID string          `json:"session_id"`
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
}
