package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// legacyCombined is the provider SDK's own session blob.
type legacyCombined struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	User         json.RawMessage `json:"user"`
}

// Migrate moves tokens stored under the legacy keys into the versioned record
// and deletes the legacy keys. It is idempotent; it reports whether a pair
// was migrated.
func (s *Store) Migrate(ctx context.Context) (bool, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	if current != nil {
		return false, s.dropLegacy(ctx)
	}

	pair, err := s.readLegacy(ctx)
	if err != nil {
		return false, err
	}
	if pair.Valid() {
		if err := s.Save(ctx, *pair); err != nil {
			return false, fmt.Errorf("migrate: %w", err)
		}
	}
	if err := s.dropLegacy(ctx); err != nil {
		return false, err
	}

	if pair.Valid() {
		s.log.Info().Msg("migrated legacy session keys")
		return true, nil
	}
	return false, nil
}

// readLegacy prefers the combined key and falls back to the split keys.
func (s *Store) readLegacy(ctx context.Context) (*domain.TokenPair, error) {
	if key := s.legacyCombinedKey(); key != "" {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", key, err)
		}
		if ok {
			pair, err := decodeCombined(raw)
			if err == nil {
				return pair, nil
			}
			s.log.Warn().Err(err).Str("key", key).Msg("dropping corrupt legacy session")
		}
	}

	access, _, err := s.kv.Get(ctx, legacyAccessKey)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", legacyAccessKey, err)
	}
	refresh, _, err := s.kv.Get(ctx, legacyRefreshKey)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", legacyRefreshKey, err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func decodeCombined(raw string) (*domain.TokenPair, error) {
	var c legacyCombined
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode combined session: %w", err)
	}
	if len(c.User) > 0 {
		if _, err := domain.DecodeUser(c.User); errors.Is(err, domain.ErrMalformedUser) {
			return nil, err
		}
	}
	if c.AccessToken == "" {
		return nil, errors.New("combined session has no access token")
	}
	return &domain.TokenPair{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
	}, nil
}

func (s *Store) dropLegacy(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.legacyKeys()...); err != nil {
		return fmt.Errorf("migrate: delete legacy keys: %w", err)
	}
	return nil
}
