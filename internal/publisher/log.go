package publisher

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

// LogPublisher is used when no broker is configured. Events only go to the log.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishCheckoutCompleted(_ context.Context, event domain.CheckoutCompletedEvent) error {
	p.log.Info("checkout completed event",
		zap.String("event_type", eventTypeCheckoutCompleted),
		zap.String("checkout_id", event.CheckoutID),
		zap.String("session_id", event.SessionID),
		zap.Int("items", len(event.Items)),
		zap.String("total_amount", event.TotalAmount.String()),
		zap.String("currency", event.Currency))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
