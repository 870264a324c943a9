package ports

import (
	"context"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// CreateSessionInput is the create-session request body in service form.
type CreateSessionInput struct {
	ServiceID    string
	ServiceTitle string
	Price        int64
	UserID       string
}

// CreateSessionResult is returned to the browser for redirection.
type CreateSessionResult struct {
	SessionID string
	URL       string
}

// WebhookOutcome describes what a webhook delivery caused.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// CheckoutService defines the payment-completion use cases.
type CheckoutService interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
	Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error)
}

// ConfirmInput is the client fallback request.
type ConfirmInput struct {
	UserID    string
	SessionID string
}

// ReconcileResult reports the project for a checkout and whether this call
// created it.
type ReconcileResult struct {
	Project *domain.Project
	Created bool
}

// ProjectService defines project use cases.
type ProjectService interface {
	Reconcile(ctx context.Context, session *domain.CheckoutSession, source domain.ProjectSource) (*ReconcileResult, error)
	ConfirmFromClient(ctx context.Context, in ConfirmInput) (*ReconcileResult, error)
	ListForClient(ctx context.Context, userID string) ([]*domain.Project, error)
	ListAll(ctx context.Context, limit int) ([]*domain.Project, error)
	UpdateStatus(ctx context.Context, id string, to domain.ProjectStatus) (*domain.Project, error)
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
}
