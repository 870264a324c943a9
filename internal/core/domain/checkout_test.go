package domain

import (
	"errors"
	"testing"
)

func TestCheckoutRequest_MetadataRoundTripsThroughSession(t *testing.T) {
	req := CheckoutRequest{
		Offer:  ServiceOffer{ServiceID: "svc_1", Title: "Landing Page", Price: 1490},
		UserID: "u1",
	}

	s := &CheckoutSession{ID: "cs_1", Metadata: req.Metadata(), PaymentStatus: "paid"}

	if got := s.Key(); got != (NaturalKey{UserID: "u1", ServiceID: "svc_1", SessionID: "cs_1"}) {
		t.Fatalf("unexpected key: %+v", got)
	}
	if got := s.Offer(); got != req.Offer {
		t.Fatalf("unexpected offer: %+v", got)
	}
	if !s.Paid() {
		t.Error("expected paid session")
	}
}

func TestCheckoutSession_OfferFallsBackToAmountTotal(t *testing.T) {
	s := &CheckoutSession{ID: "cs_2", AmountTotal: 149000, Metadata: map[string]string{MetaServiceID: "svc_1"}}
	if got := s.Offer().Price; got != 1490 {
		t.Fatalf("expected 1490, got %d", got)
	}
}

func TestNaturalKey_Validate(t *testing.T) {
	if err := (NaturalKey{UserID: "u1", ServiceID: "svc_1"}).Validate(); !errors.Is(err, ErrInvalidCheckout) {
		t.Fatalf("expected ErrInvalidCheckout, got %v", err)
	}
	if err := (NaturalKey{UserID: "u1", ServiceID: "svc_1", SessionID: "cs_1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
