package ports

import (
	"context"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// ProjectRepository defines persistence operations for projects.
type ProjectRepository interface {
	// CreateIfAbsent inserts p unless a project with the same checkout
	// session id exists. It returns the stored project and whether this call
	// created it; the uniqueness is enforced by the store itself.
	CreateIfAbsent(ctx context.Context, p *domain.Project) (*domain.Project, bool, error)
	FindByID(ctx context.Context, id string) (*domain.Project, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Project, error)
	// List returns projects newest first. An empty clientID lists everything.
	List(ctx context.Context, clientID string, limit int) ([]*domain.Project, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.ProjectStatus) (*domain.Project, error)
}

// ProfileRepository reads application profiles.
type ProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Profile, error)
}
