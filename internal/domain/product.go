package domain

import "github.com/shopspring/decimal"

// Product is a catalog entry. It is never mutated after it has been fetched.
type Product struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
}
