package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutStatus string

// Failed checkouts return an error and produce no receipt, so a receipt is
// always COMPLETED.
const CheckoutStatusCompleted CheckoutStatus = "COMPLETED"

func (s CheckoutStatus) String() string {
	return string(s)
}

// PaymentDetails is what the buyer types into the checkout form.
type PaymentDetails struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
}

type CartSnapshotItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartSnapshot represents the full cart state at checkout time
type CartSnapshot struct {
	Items       []CartSnapshotItem `json:"items"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
	CapturedAt  time.Time          `json:"captured_at"`
}

type Receipt struct {
	CheckoutID string         `json:"checkout_id"`
	Status     CheckoutStatus `json:"status"`
	Snapshot   CartSnapshot   `json:"snapshot"`
	CardLast4  string         `json:"card_last4"`
}

// CheckoutCompletedEvent is published once a mock checkout has gone through.
// It never carries full card data.
type CheckoutCompletedEvent struct {
	CheckoutID  string             `json:"checkout_id"`
	SessionID   string             `json:"session_id"`
	Items       []CartSnapshotItem `json:"items"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
	CardLast4   string             `json:"card_last4"`
	CompletedAt time.Time          `json:"completed_at"`
}
