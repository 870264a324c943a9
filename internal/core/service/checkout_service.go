package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/api/metrics"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// sessionIDPlaceholder is substituted by the payments provider on redirect.
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// CheckoutConfig carries the URLs and currency used for hosted checkouts.
type CheckoutConfig struct {
	AppURL   string
	Currency string
}

type checkoutService struct {
	gateway  ports.PaymentGateway
	verifier ports.WebhookVerifier
	dedup    ports.EventDedup
	projects ports.ProjectService
	cfg      CheckoutConfig
	log      zerolog.Logger
}

// NewCheckoutService returns a CheckoutService implementation.
func NewCheckoutService(
	gateway ports.PaymentGateway,
	verifier ports.WebhookVerifier,
	dedup ports.EventDedup,
	projects ports.ProjectService,
	cfg CheckoutConfig,
	log zerolog.Logger,
) ports.CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &checkoutService{
		gateway:  gateway,
		verifier: verifier,
		dedup:    dedup,
		projects: projects,
		cfg:      cfg,
		log:      log,
	}
}

// CreateSession opens a hosted checkout carrying the natural key as metadata
// and in the success URL.
func (s *checkoutService) CreateSession(ctx context.Context, in ports.CreateSessionInput) (*ports.CreateSessionResult, error) {
	if strings.TrimSpace(in.ServiceID) == "" || strings.TrimSpace(in.ServiceTitle) == "" ||
		strings.TrimSpace(in.UserID) == "" || in.Price <= 0 {
		return nil, fmt.Errorf("create session: %w", domain.ErrInvalidCheckout)
	}

	req := domain.CheckoutRequest{
		Offer: domain.ServiceOffer{
			ServiceID: in.ServiceID,
			Title:     in.ServiceTitle,
			Price:     in.Price,
		},
		UserID:     in.UserID,
		Currency:   s.cfg.Currency,
		SuccessURL: s.successURL(in),
		CancelURL:  s.cfg.AppURL + "/marketplace",
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("service_id", in.ServiceID).Str("user_id", in.UserID).Msg("create checkout session failed")
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.log.Info().Str("session_id", session.ID).Str("service_id", in.ServiceID).Str("user_id", in.UserID).Msg("checkout session created")

	return &ports.CreateSessionResult{SessionID: session.ID, URL: session.URL}, nil
}

func (s *checkoutService) successURL(in ports.CreateSessionInput) string {
	q := url.Values{}
	q.Set("service_id", in.ServiceID)
	q.Set("service_title", in.ServiceTitle)
	q.Set("price", strconv.FormatInt(in.Price, 10))
	q.Set("user_id", in.UserID)
	// The placeholder must stay unescaped for the provider to substitute it.
	return s.cfg.AppURL + "/payment-success?session_id=" + sessionIDPlaceholder + "&" + q.Encode()
}

// HandleWebhook verifies a delivery and reconciles paid checkouts. It is the
// authoritative writer of projects.
func (s *checkoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (ports.WebhookOutcome, error) {
	event, err := s.verifier.ParseEvent(payload, signature)
	if err != nil {
		metrics.WebhookRejectedTotal.Inc()
		s.log.Warn().Err(err).Msg("webhook rejected")
		return "", err
	}

	if event.Type != domain.EventCheckoutCompleted && event.Type != domain.EventCheckoutAsyncPaymentSucceeded {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, string(ports.WebhookIgnored)).Inc()
		s.log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("webhook event ignored")
		return ports.WebhookIgnored, nil
	}
	// Delayed payment methods complete the session before the money arrives;
	// the async_payment_succeeded event follows.
	if !event.Session.Paid() {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, string(ports.WebhookIgnored)).Inc()
		s.log.Info().Str("event_id", event.ID).Msg("checkout completed without payment, waiting for async confirmation")
		return ports.WebhookIgnored, nil
	}

	// 1. Idempotency check: silently skip duplicates.
	isDup, err := s.dedup.IsDuplicate(ctx, event.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", event.ID).Msg("dedup check failed, processing anyway")
	} else if isDup {
		metrics.WebhookDedupTotal.WithLabelValues("hit").Inc()
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, string(ports.WebhookDuplicate)).Inc()
		s.log.Debug().Str("event_id", event.ID).Msg("duplicate webhook event skipped")
		return ports.WebhookDuplicate, nil
	}
	metrics.WebhookDedupTotal.WithLabelValues("miss").Inc()

	// 2. Reconcile; the repository absorbs a project already created by the
	// client fallback.
	res, err := s.projects.Reconcile(ctx, event.Session, domain.SourceWebhook)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return "", fmt.Errorf("handle webhook %s: %w", event.ID, err)
	}

	// 3. Mark only after success so that provider retries of a failed
	// delivery are processed again.
	if markErr := s.dedup.Mark(ctx, event.ID); markErr != nil {
		s.log.Warn().Err(markErr).Str("event_id", event.ID).Msg("failed to set dedup key")
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.Type, string(ports.WebhookProcessed)).Inc()
	s.log.Info().
		Str("event_id", event.ID).
		Str("session_id", event.Session.ID).
		Str("project_id", res.Project.ID).
		Bool("created", res.Created).
		Msg("webhook processed")

	return ports.WebhookProcessed, nil
}

// Invoices lists the invoices of the customers behind the given checkout
// sessions. Sessions that belong to another user are skipped.
func (s *checkoutService) Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("invoices: %w", domain.ErrInvalidCheckout)
	}

	var customers []string
	seenCustomer := make(map[string]struct{})
	seenSession := make(map[string]struct{})
	for _, id := range sessionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seenSession[id]; ok {
			continue
		}
		seenSession[id] = struct{}{}

		session, err := s.gateway.GetCheckoutSession(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrCheckoutNotFound) {
				s.log.Debug().Str("session_id", id).Msg("invoice lookup: unknown session")
				continue
			}
			return nil, fmt.Errorf("invoices: %w", err)
		}
		if session.Metadata[domain.MetaUserID] != userID {
			s.log.Warn().Str("session_id", id).Str("user_id", userID).Msg("invoice lookup: session belongs to another user")
			continue
		}
		if session.CustomerID == "" {
			continue
		}
		if _, ok := seenCustomer[session.CustomerID]; !ok {
			seenCustomer[session.CustomerID] = struct{}{}
			customers = append(customers, session.CustomerID)
		}
	}

	invoices := make([]domain.Invoice, 0)
	seenInvoice := make(map[string]struct{})
	for _, customer := range customers {
		list, err := s.gateway.ListInvoices(ctx, customer)
		if err != nil {
			return nil, fmt.Errorf("invoices: customer %s: %w", customer, err)
		}
		for _, inv := range list {
			if _, ok := seenInvoice[inv.ID]; ok {
				continue
			}
			seenInvoice[inv.ID] = struct{}{}
			invoices = append(invoices, inv)
		}
	}

	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}
