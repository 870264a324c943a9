// Package stripe adapts the Stripe API to the payment ports.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// Config holds the Stripe credentials. APIURL overrides the API host and is
// only set against a local stub.
type Config struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
}

// Gateway implements ports.PaymentGateway on top of stripe-go.
type Gateway struct {
	api *client.API
	log zerolog.Logger
}

// NewGateway builds a Gateway from cfg.
func NewGateway(cfg Config, log zerolog.Logger) *Gateway {
	var backends *stripego.Backends
	if cfg.APIURL != "" {
		backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
			URL:               stripego.String(cfg.APIURL),
			HTTPClient:        &http.Client{Timeout: 10 * time.Second},
			LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
			MaxNetworkRetries: stripego.Int64(0),
		})
		backends = &stripego.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &Gateway{api: client.New(cfg.SecretKey, backends), log: log}
}

// CreateCheckoutSession opens a one-off hosted payment for req.Offer. The
// price is in major units and sent to Stripe in cents.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency: stripego.String(req.Currency),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(req.Offer.Title),
				},
				UnitAmount: stripego.Int64(req.Offer.Price * 100),
			},
			Quantity: stripego.Int64(1),
		}},
		ClientReferenceID: stripego.String(req.UserID),
		CustomerCreation:  stripego.String(string(stripego.CheckoutSessionCustomerCreationAlways)),
		InvoiceCreation: &stripego.CheckoutSessionInvoiceCreationParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata() {
		params.AddMetadata(k, v)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	return toSession(s), nil
}

// GetCheckoutSession retrieves a session; unknown ids map to
// domain.ErrCheckoutNotFound.
func (g *Gateway) GetCheckoutSession(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("stripe get session %s: %w", id, err)
	}
	return toSession(s), nil
}

// ListInvoices returns every invoice of a customer.
func (g *Gateway) ListInvoices(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	params := &stripego.InvoiceListParams{Customer: stripego.String(customerID)}
	params.Context = ctx

	var out []domain.Invoice
	it := g.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		if inv.Status == stripego.InvoiceStatusDraft {
			continue
		}
		out = append(out, toInvoice(inv))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripe list invoices %s: %w", customerID, err)
	}
	g.log.Debug().Str("customer_id", customerID).Int("count", len(out)).Msg("invoices listed")
	return out, nil
}

func isNotFound(err error) bool {
	var serr *stripego.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripego.ErrorCodeResourceMissing
}

func toSession(s *stripego.CheckoutSession) *domain.CheckoutSession {
	out := &domain.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}

func toInvoice(inv *stripego.Invoice) domain.Invoice {
	return domain.Invoice{
		ID:         inv.ID,
		Number:     inv.Number,
		AmountPaid: inv.AmountPaid,
		Currency:   string(inv.Currency),
		Status:     string(inv.Status),
		HostedURL:  inv.HostedInvoiceURL,
		PDFURL:     inv.InvoicePDF,
		CreatedAt:  time.Unix(inv.Created, 0).UTC(),
	}
}
