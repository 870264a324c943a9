package ports

import (
	"context"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// PaymentGateway is the server-side contract of the hosted payments provider.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*domain.CheckoutSession, error)
	ListInvoices(ctx context.Context, customerID string) ([]domain.Invoice, error)
}

// WebhookVerifier checks a webhook signature and decodes the event.
// Verification failures wrap domain.ErrInvalidSignature.
type WebhookVerifier interface {
	ParseEvent(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// EventDedup remembers processed webhook deliveries.
type EventDedup interface {
	IsDuplicate(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// KeyedExecutor runs jobs so that jobs sharing a key never overlap.
type KeyedExecutor interface {
	Submit(ctx context.Context, key string, job func(ctx context.Context) error) error
}
