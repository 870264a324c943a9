// Package checkout drives a purchase from the client side: it opens the
// hosted checkout and, back on the success page, makes sure the project got
// recorded even when the payment webhook has not arrived.
package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/client/safefetch"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// Texts shown on the success page.
const (
	TitleSuccess         = "Paiement réussi"
	WarningProjectFailed = "Erreur lors de la création du projet"
)

// API is the part of the API server the flow talks to.
type API interface {
	CreateCheckoutSession(ctx context.Context, offer domain.ServiceOffer, userID string) (*ports.CreateSessionResult, error)
	ConfirmProject(ctx context.Context, sessionID string) (*ports.ReconcileResult, error)
	Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error)
}

// Return is what the success URL carries back from the hosted checkout.
type Return struct {
	SessionID string
	UserID    string
	Offer     domain.ServiceOffer
}

// Outcome is rendered by the success page. A non-empty Warning means the
// project could not be confirmed; the payment itself went through.
type Outcome struct {
	Title           string
	Warning         string
	Project         *domain.Project
	AlreadyRecorded bool
	Return
}

// Flow runs the client side of a checkout.
type Flow struct {
	api  API
	deps safefetch.Deps
	opts safefetch.Options
	log  zerolog.Logger
}

// NewFlow builds a Flow. deps and opts configure the fetchers used for the
// server calls.
func NewFlow(api API, deps safefetch.Deps, opts safefetch.Options, log zerolog.Logger) *Flow {
	return &Flow{api: api, deps: deps, opts: opts, log: log}
}

// Start opens a hosted checkout and returns the URL to redirect to.
func (f *Flow) Start(ctx context.Context, offer domain.ServiceOffer, userID string) (string, error) {
	if strings.TrimSpace(offer.ServiceID) == "" || strings.TrimSpace(offer.Title) == "" ||
		offer.Price <= 0 || strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("start checkout: %w", domain.ErrInvalidCheckout)
	}
	res, err := f.api.CreateCheckoutSession(ctx, offer, userID)
	if err != nil {
		return "", fmt.Errorf("start checkout: %w", err)
	}
	if res.URL == "" {
		return "", fmt.Errorf("start checkout: %w: no redirect url", domain.ErrInvalidCheckout)
	}
	f.log.Info().Str("session_id", res.SessionID).Str("service_id", offer.ServiceID).Msg("checkout started")
	return res.URL, nil
}

// ParseReturn reads the success URL. A missing or unsubstituted session id is
// domain.ErrInvalidCheckout; the other parameters are informational.
func ParseReturn(successURL string) (*Return, error) {
	u, err := url.Parse(successURL)
	if err != nil {
		return nil, fmt.Errorf("parse return url: %w", domain.ErrInvalidCheckout)
	}
	q := u.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	if sessionID == "" || strings.Contains(sessionID, "{") {
		return nil, fmt.Errorf("parse return url: %w: missing session_id", domain.ErrInvalidCheckout)
	}
	price, _ := strconv.ParseInt(q.Get("price"), 10, 64)
	return &Return{
		SessionID: sessionID,
		UserID:    q.Get("user_id"),
		Offer: domain.ServiceOffer{
			ServiceID: q.Get("service_id"),
			Title:     q.Get("service_title"),
			Price:     price,
		},
	}, nil
}

// Complete handles the return from the hosted checkout. The server answers
// created=false when the webhook already recorded the project; that is the
// same success. A failed confirmation only sets Warning: the payment is
// done, so the page is never blocked.
func (f *Flow) Complete(ctx context.Context, successURL string) (*Outcome, error) {
	ret, err := ParseReturn(successURL)
	if err != nil {
		return nil, err
	}

	opts := f.opts
	opts.Key = "confirm:" + ret.SessionID
	fetcher := safefetch.New(func(ctx context.Context) (*ports.ReconcileResult, error) {
		return f.api.ConfirmProject(ctx, ret.SessionID)
	}, f.deps, opts)

	out := &Outcome{Title: TitleSuccess, Return: *ret}
	res, err := fetcher.Refetch(ctx)
	if err != nil {
		f.log.Warn().Err(err).Str("session_id", ret.SessionID).Msg("project confirmation failed")
		out.Warning = WarningProjectFailed
		return out, nil
	}

	out.Project = res.Project
	out.AlreadyRecorded = !res.Created
	f.log.Info().
		Str("session_id", ret.SessionID).
		Str("project_id", res.Project.ID).
		Bool("already_recorded", out.AlreadyRecorded).
		Msg("checkout completed")
	return out, nil
}

// Invoices lists the invoices for the given checkout sessions.
func (f *Flow) Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error) {
	opts := f.opts
	opts.Key = "invoices:" + userID
	fetcher := safefetch.New(func(ctx context.Context) ([]domain.Invoice, error) {
		return f.api.Invoices(ctx, userID, sessionIDs)
	}, f.deps, opts)
	return fetcher.Refetch(ctx)
}
