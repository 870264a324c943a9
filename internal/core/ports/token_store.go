package ports

import (
	"context"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// KV is the persistent key/value storage tokens and preferences live in.
// Get returns ("", false, nil) for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// TokenStore persists the session token pair. Load returns (nil, nil) when
// no usable pair is stored.
type TokenStore interface {
	Load(ctx context.Context) (*domain.TokenPair, error)
	Save(ctx context.Context, pair domain.TokenPair) error
	Clear(ctx context.Context) error
}
