package ports

import (
	"context"
	"encoding/json"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// IdentityProvider is the narrow contract of the hosted authentication
// service. User values are returned raw; callers pass them through
// domain.DecodeUser before trusting them.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthSession, error)
	// SignUp returns a nil session when the provider requires e-mail
	// confirmation before the first sign-in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.AuthSession, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	GetUser(ctx context.Context, accessToken string) (json.RawMessage, error)
	UpdateUser(ctx context.Context, accessToken string, attrs domain.UserAttributes) (json.RawMessage, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProfileLookup resolves the application profile of a signed-in user; the
// admin flag is derived from it.
type ProfileLookup interface {
	Profile(ctx context.Context, accessToken string) (*domain.Profile, error)
}
