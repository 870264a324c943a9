// Package session keeps the client's identity-provider session: token
// persistence, freshness probing and refresh.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// Storage keys.
const (
	KeySession = "agency.session.v2"

	legacyAccessKey  = "sb-access-token"
	legacyRefreshKey = "sb-refresh-token"
)

// Feature-local preference keys.
const (
	PrefSidebarCollapsed = "sidebar-collapsed"
	PrefOnboarded        = "hasCompletedOnboarding"
	PrefUserProfile      = "userProfile"
	PrefDegradedMode     = "degraded-mode"
)

const schemaVersion = 2

type record struct {
	Version      int    `json:"version"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Store persists the token pair under a single versioned key. It implements
// ports.TokenStore.
type Store struct {
	kv         ports.KV
	projectRef string
	log        zerolog.Logger
}

// NewStore returns a Store over kv. projectRef names the identity project and
// is only used to find the legacy combined key during Migrate.
func NewStore(kv ports.KV, projectRef string, log zerolog.Logger) *Store {
	return &Store{kv: kv, projectRef: projectRef, log: log}
}

// Load returns the stored pair, or nil when none is stored. A record that
// cannot be decoded is deleted and reported as absent.
func (s *Store) Load(ctx context.Context) (*domain.TokenPair, error) {
	raw, ok, err := s.kv.Get(ctx, KeySession)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Version != schemaVersion || rec.AccessToken == "" {
		s.log.Warn().Err(err).Int("version", rec.Version).Msg("discarding corrupt session record")
		if delErr := s.kv.Delete(ctx, KeySession); delErr != nil {
			return nil, fmt.Errorf("delete corrupt session: %w", delErr)
		}
		return nil, nil
	}

	return &domain.TokenPair{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// Save replaces the stored pair.
func (s *Store) Save(ctx context.Context, pair domain.TokenPair) error {
	if !pair.Valid() {
		return errors.New("save session: empty access token")
	}
	buf, err := json.Marshal(record{
		Version:      schemaVersion,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, KeySession, string(buf)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the tokens together with the per-user cached state.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeySession, PrefUserProfile, PrefDegradedMode); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Preference reads a feature-local key.
func (s *Store) Preference(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, key)
}

// SetPreference writes a feature-local key.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, key, value)
}

func (s *Store) legacyCombinedKey() string {
	if s.projectRef == "" {
		return ""
	}
	return "sb-" + s.projectRef + "-auth-token"
}

func (s *Store) legacyKeys() []string {
	keys := []string{legacyAccessKey, legacyRefreshKey}
	if k := s.legacyCombinedKey(); k != "" {
		keys = append(keys, k)
	}
	return keys
}
