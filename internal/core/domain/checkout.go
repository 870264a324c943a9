package domain

import (
	"strconv"
	"strings"
	"time"
)

// Metadata keys carried on a checkout session; they form the natural key.
const (
	MetaUserID       = "userId"
	MetaServiceID    = "serviceId"
	MetaServiceTitle = "serviceTitle"
	MetaPrice        = "price"
)

// NaturalKey correlates a payment with the project it must produce. The
// checkout session id alone is the idempotency key.
type NaturalKey struct {
	UserID    string
	ServiceID string
	SessionID string
}

// Validate requires every component of the key.
func (k NaturalKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.ServiceID) == "" || strings.TrimSpace(k.SessionID) == "" {
		return ErrInvalidCheckout
	}
	return nil
}

// ServiceOffer is what the buyer is paying for. Price is in major currency
// units (1490 means 1490.00).
type ServiceOffer struct {
	ServiceID string
	Title     string
	Price     int64
}

// CheckoutRequest is handed to the payments provider.
type CheckoutRequest struct {
	Offer      ServiceOffer
	UserID     string
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Metadata returns the natural-key metadata stored on the provider session.
func (r CheckoutRequest) Metadata() map[string]string {
	return map[string]string{
		MetaUserID:       r.UserID,
		MetaServiceID:    r.Offer.ServiceID,
		MetaServiceTitle: r.Offer.Title,
		MetaPrice:        strconv.FormatInt(r.Offer.Price, 10),
	}
}

// CheckoutSession is the provider-side purchase attempt.
type CheckoutSession struct {
	ID            string
	URL           string
	PaymentStatus string
	CustomerID    string
	Metadata      map[string]string
	AmountTotal   int64
	Currency      string
}

// Paid reports whether the provider marked the session as paid.
func (s *CheckoutSession) Paid() bool {
	return s != nil && s.PaymentStatus == "paid"
}

// Key extracts the natural key from the session metadata.
func (s *CheckoutSession) Key() NaturalKey {
	return NaturalKey{
		UserID:    s.Metadata[MetaUserID],
		ServiceID: s.Metadata[MetaServiceID],
		SessionID: s.ID,
	}
}

// Offer rebuilds the purchased offer from the session metadata.
func (s *CheckoutSession) Offer() ServiceOffer {
	price, _ := strconv.ParseInt(s.Metadata[MetaPrice], 10, 64)
	if price == 0 && s.AmountTotal > 0 {
		price = s.AmountTotal / 100
	}
	return ServiceOffer{
		ServiceID: s.Metadata[MetaServiceID],
		Title:     s.Metadata[MetaServiceTitle],
		Price:     price,
	}
}

// Payment event types the webhook acts on.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// PaymentEvent is a verified webhook delivery.
type PaymentEvent struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// Invoice is a provider invoice as exposed to the dashboard.
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	AmountPaid int64     `json:"amount_paid"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	HostedURL  string    `json:"hosted_invoice_url"`
	PDFURL     string    `json:"invoice_pdf"`
	CreatedAt  time.Time `json:"created_at"`
}
