package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

func newStubAPI(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(Config{SecretKey: "sk_test_123", APIURL: srv.URL}, zerolog.Nop())
}

func TestGateway_GetCheckoutSession(t *testing.T) {
	g := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","payment_status":"paid","customer":"cus_1","metadata":{"userId":"u1"}}`))
	})

	s, err := g.GetCheckoutSession(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Paid() || s.CustomerID != "cus_1" || s.Metadata[domain.MetaUserID] != "u1" {
		t.Errorf("unexpected session: %+v", s)
	}
}

func TestGateway_GetCheckoutSession_NotFound(t *testing.T) {
	g := newStubAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
	})

	_, err := g.GetCheckoutSession(context.Background(), "cs_missing")
	if !errors.Is(err, domain.ErrCheckoutNotFound) {
		t.Fatalf("expected ErrCheckoutNotFound, got %v", err)
	}
}

func TestGateway_CreateCheckoutSession(t *testing.T) {
	g := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("line_items[0][price_data][unit_amount]"); got != "149000" {
			t.Errorf("expected amount in cents, got %q", got)
		}
		if got := r.PostForm.Get("metadata[serviceId]"); got != "svc_1" {
			t.Errorf("expected serviceId metadata, got %q", got)
		}
		if got := r.PostForm.Get("mode"); got != "payment" {
			t.Errorf("expected payment mode, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_new","payment_status":"unpaid"}`))
	})

	s, err := g.CreateCheckoutSession(context.Background(), domain.CheckoutRequest{
		Offer:      domain.ServiceOffer{ServiceID: "svc_1", Title: "Landing Page", Price: 1490},
		UserID:     "u1",
		Currency:   "eur",
		SuccessURL: "https://app.example.com/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.example.com/marketplace",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "cs_new" || !strings.HasPrefix(s.URL, "https://checkout.stripe.com/") {
		t.Errorf("unexpected session: %+v", s)
	}
}

func TestGateway_ListInvoicesSkipsDrafts(t *testing.T) {
	g := newStubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoices" || r.URL.Query().Get("customer") != "cus_1" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/invoices","has_more":false,"data":[
			{"id":"in_1","object":"invoice","status":"paid","amount_paid":149000,"currency":"eur","created":1700000000,"number":"A-1"},
			{"id":"in_2","object":"invoice","status":"draft","created":1700000100}
		]}`))
	})

	invoices, err := g.ListInvoices(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invoices) != 1 || invoices[0].ID != "in_1" || invoices[0].AmountPaid != 149000 {
		t.Fatalf("unexpected invoices: %+v", invoices)
	}
	if invoices[0].CreatedAt.Unix() != 1700000000 {
		t.Errorf("unexpected created_at: %v", invoices[0].CreatedAt)
	}
}
