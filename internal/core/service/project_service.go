package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/api/metrics"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// ProjectService reconciles paid checkouts into projects and serves the
// project views.
type ProjectService struct {
	repo     ports.ProjectRepository
	profiles ports.ProfileRepository
	gateway  ports.PaymentGateway
	exec     ports.KeyedExecutor
	logger   zerolog.Logger
	now      func() time.Time
}

func NewProjectService(
	repo ports.ProjectRepository,
	profiles ports.ProfileRepository,
	gateway ports.PaymentGateway,
	exec ports.KeyedExecutor,
	logger zerolog.Logger,
) *ProjectService {
	return &ProjectService{
		repo:     repo,
		profiles: profiles,
		gateway:  gateway,
		exec:     exec,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile makes sure the project for a paid checkout session exists.
// Webhook and client fallback both land here; jobs for one session id are
// serialised by the executor and the repository enforces one project per
// session id, so whichever writer comes second gets Created=false.
func (s *ProjectService) Reconcile(ctx context.Context, session *domain.CheckoutSession, source domain.ProjectSource) (*ports.ReconcileResult, error) {
	if session == nil {
		return nil, fmt.Errorf("reconcile: %w", domain.ErrInvalidCheckout)
	}
	key := session.Key()
	if err := key.Validate(); err != nil {
		metrics.ProjectsReconciledTotal.WithLabelValues(string(source), "error").Inc()
		return nil, fmt.Errorf("reconcile %s: %w", session.ID, err)
	}

	start := time.Now()
	var result *ports.ReconcileResult
	err := s.exec.Submit(ctx, key.SessionID, func(ctx context.Context) error {
		offer := session.Offer()
		now := s.now().UTC()
		project := &domain.Project{
			ID:                uuid.NewString(),
			ClientID:          key.UserID,
			ServiceID:         key.ServiceID,
			Title:             offer.Title,
			Price:             offer.Price,
			Status:            domain.ProjectPending,
			CheckoutSessionID: key.SessionID,
			Source:            source,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		stored, created, err := s.repo.CreateIfAbsent(ctx, project)
		if err != nil {
			return err
		}
		result = &ports.ReconcileResult{Project: stored, Created: created}
		return nil
	})
	metrics.ReconcileDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProjectsReconciledTotal.WithLabelValues(string(source), "error").Inc()
		s.logger.Error().Err(err).Str("session_id", key.SessionID).Str("source", string(source)).Msg("reconcile failed")
		return nil, fmt.Errorf("reconcile %s: %w", key.SessionID, err)
	}

	outcome := "existing"
	if result.Created {
		outcome = "created"
	}
	metrics.ProjectsReconciledTotal.WithLabelValues(string(source), outcome).Inc()
	s.logger.Info().
		Str("session_id", key.SessionID).
		Str("project_id", result.Project.ID).
		Str("client_id", key.UserID).
		Str("source", string(source)).
		Str("outcome", outcome).
		Msg("checkout reconciled")

	return result, nil
}

// ConfirmFromClient is the success-page fallback. The client only supplies
// the session id; everything else is read back from the payments provider so
// a caller cannot create projects for sessions it did not pay for.
func (s *ProjectService) ConfirmFromClient(ctx context.Context, in ports.ConfirmInput) (*ports.ReconcileResult, error) {
	if in.SessionID == "" || in.UserID == "" {
		return nil, fmt.Errorf("confirm: %w", domain.ErrInvalidCheckout)
	}

	session, err := s.gateway.GetCheckoutSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", in.SessionID, err)
	}
	if session.Metadata[domain.MetaUserID] != in.UserID {
		return nil, fmt.Errorf("confirm %s: %w", in.SessionID, domain.ErrForbidden)
	}
	if !session.Paid() {
		return nil, fmt.Errorf("confirm %s: %w", in.SessionID, domain.ErrPaymentIncomplete)
	}

	// The webhook usually wins the race; skip the executor when it has.
	if existing, err := s.repo.FindBySessionID(ctx, in.SessionID); err == nil {
		metrics.ProjectsReconciledTotal.WithLabelValues(string(domain.SourceFallback), "existing").Inc()
		return &ports.ReconcileResult{Project: existing, Created: false}, nil
	} else if !errors.Is(err, domain.ErrProjectNotFound) {
		s.logger.Warn().Err(err).Str("session_id", in.SessionID).Msg("project lookup failed, reconciling anyway")
	}

	return s.Reconcile(ctx, session, domain.SourceFallback)
}

// ListForClient returns the projects owned by userID, newest first.
func (s *ProjectService) ListForClient(ctx context.Context, userID string) ([]*domain.Project, error) {
	if userID == "" {
		return nil, domain.ErrForbidden
	}
	return s.repo.List(ctx, userID, maxListLimit)
}

// ListAll returns every project for the admin console.
func (s *ProjectService) ListAll(ctx context.Context, limit int) ([]*domain.Project, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, "", limit)
}

// UpdateStatus moves a project along the status state machine.
func (s *ProjectService) UpdateStatus(ctx context.Context, id string, to domain.ProjectStatus) (*domain.Project, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("update status: %w (unknown status %q)", domain.ErrInvalidTransition, to)
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("update status: %w (from %s to %s)", domain.ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		// A concurrent writer moved the project first.
		if errors.Is(err, domain.ErrProjectNotFound) {
			return nil, fmt.Errorf("update status: %w (project changed concurrently)", domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logger.Info().Str("project_id", id).Str("from", string(current.Status)).Str("to", string(to)).Msg("project status updated")
	return updated, nil
}

// Profile returns the application profile of userID. Users without a
// profile record are plain clients.
func (s *ProjectService) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	if userID == "" {
		return nil, domain.ErrForbidden
	}
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return &domain.Profile{UserID: userID, Role: domain.RoleClient}, nil
		}
		return nil, fmt.Errorf("profile: %w", err)
	}
	return p, nil
}
