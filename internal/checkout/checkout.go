// Package checkout runs the mock checkout: it validates the payment form,
// freezes the cart into a snapshot, pretends to process payment, announces the
// result and empties the cart. No money moves and no card data leaves it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDelay    = 2 * time.Second
	DefaultCurrency = "USD"
)

var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// Carts hands out a session cart for checkout and clears it when fn succeeds.
type Carts interface {
	Drain(ctx context.Context, sessionID string, fn func(domain.CartSummary) error) error
}

type Publisher interface {
	PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompletedEvent) error
}

type Options struct {
	Delay    time.Duration
	Currency string
	Logger   *zap.Logger
}

type Service struct {
	carts     Carts
	publisher Publisher
	delay     time.Duration
	currency  string
	log       *zap.Logger
	now       func() time.Time
}

func NewService(carts Carts, publisher Publisher, opts Options) *Service {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		carts:     carts,
		publisher: publisher,
		delay:     opts.Delay,
		currency:  opts.Currency,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// Checkout completes a mock purchase of everything in the session cart. On any
// failure the cart is left untouched.
func (s *Service) Checkout(ctx context.Context, sessionID string, details domain.PaymentDetails) (*domain.Receipt, error) {
	if err := ValidatePaymentDetails(details, s.now()); err != nil {
		return nil, err
	}

	checkoutID := uuid.NewString()
	var receipt *domain.Receipt

	err := s.carts.Drain(ctx, sessionID, func(summary domain.CartSummary) error {
		if len(summary.Items) == 0 {
			return ErrEmptyCart
		}
		snapshot := s.buildCartSnapshot(summary)

		if err := s.simulateProcessing(ctx); err != nil {
			return fmt.Errorf("payment processing interrupted: %w", err)
		}

		event := domain.CheckoutCompletedEvent{
			CheckoutID:  checkoutID,
			SessionID:   sessionID,
			Items:       snapshot.Items,
			TotalAmount: snapshot.TotalAmount,
			Currency:    snapshot.Currency,
			CardLast4:   lastFour(details.CardNumber),
			CompletedAt: s.now(),
		}
		if err := s.publisher.PublishCheckoutCompleted(ctx, event); err != nil {
			return fmt.Errorf("failed to publish checkout event: %w", err)
		}

		receipt = &domain.Receipt{
			CheckoutID: checkoutID,
			Status:     domain.CheckoutStatusCompleted,
			Snapshot:   snapshot,
			CardLast4:  event.CardLast4,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrEmptyCart) {
			s.log.Error("checkout failed",
				zap.String("checkout_id", checkoutID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return nil, err
	}

	s.log.Info("checkout completed",
		zap.String("checkout_id", checkoutID),
		zap.String("session_id", sessionID),
		zap.String("total", receipt.Snapshot.TotalAmount.StringFixed(2)))
	return receipt, nil
}

// buildCartSnapshot captures prices as they are in the cart right now.
func (s *Service) buildCartSnapshot(summary domain.CartSummary) domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		Items:       make([]domain.CartSnapshotItem, 0, len(summary.Items)),
		TotalAmount: summary.Total,
		Currency:    s.currency,
		CapturedAt:  s.now(),
	}
	for _, item := range summary.Items {
		snapshot.Items = append(snapshot.Items, domain.CartSnapshotItem{
			ProductID:   item.Product.ID,
			ProductName: item.Product.Title,
			Quantity:    item.Quantity,
			UnitPrice:   item.Product.Price,
			Subtotal:    item.Subtotal(),
		})
	}
	return snapshot
}

func (s *Service) simulateProcessing(ctx context.Context) error {
	if s.delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lastFour(card string) string {
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}
