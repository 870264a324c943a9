package stripe

import (
	"encoding/json"
	"fmt"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// WebhookVerifier checks the Stripe-Signature header of webhook deliveries.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// ParseEvent verifies payload against signature and decodes the event. Any
// verification or decoding failure wraps domain.ErrInvalidSignature.
func (v *WebhookVerifier) ParseEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("webhook secret not configured: %w", domain.ErrInvalidSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidSignature)
	}

	out := &domain.PaymentEvent{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case domain.EventCheckoutCompleted, domain.EventCheckoutAsyncPaymentSucceeded:
		if ev.Data == nil {
			return nil, fmt.Errorf("event %s has no data: %w", ev.ID, domain.ErrInvalidSignature)
		}
		var s stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %v: %w", err, domain.ErrInvalidSignature)
		}
		out.Session = toSession(&s)
	}
	return out, nil
}
