package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// TokenPair is the persisted credential set of one signed-in user.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is a unix timestamp in seconds; 0 means unknown.
	ExpiresAt int64 `json:"expires_at"`
}

// Valid reports whether the pair carries an access token at all.
func (p *TokenPair) Valid() bool {
	return p != nil && strings.TrimSpace(p.AccessToken) != ""
}

// CanRefresh reports whether a refresh token is available.
func (p *TokenPair) CanRefresh() bool {
	return p != nil && strings.TrimSpace(p.RefreshToken) != ""
}

// AuthSession is what the identity provider returns from a token grant.
// User is kept raw so that its shape can be checked by DecodeUser before
// anything trusts it.
type AuthSession struct {
	Tokens TokenPair
	User   json.RawMessage
}

// User is the trusted, shape-checked identity of the signed-in account.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Onboarded reads the onboarding flag from the metadata bag.
func (u *User) Onboarded() bool {
	if u == nil {
		return false
	}
	v, _ := u.Metadata["onboarded"].(bool)
	return v
}

// Role reads the role advertised in the metadata bag. The authoritative role
// lives in the profile record; this one is informational.
func (u *User) Role() string {
	if u == nil {
		return ""
	}
	v, _ := u.Metadata["role"].(string)
	return v
}

// UserAttributes carries a profile update sent to the identity provider.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// DecodeUser turns a raw provider value into a User.
//
// Empty input or JSON null yields ErrNoSession. Any value that is not a JSON
// object carrying a non-empty id (a bare string being the known upstream
// case) yields ErrMalformedUser; such a value must never reach consumers.
func DecodeUser(raw json.RawMessage) (*User, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNoSession
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedUser, kindOf(trimmed[0]))
	}

	var u User
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUser, err)
	}
	if strings.TrimSpace(u.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedUser)
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	return &u, nil
}

func kindOf(first byte) string {
	switch {
	case first == '"':
		return "string"
	case first == '[':
		return "array"
	case first == 't' || first == 'f':
		return "boolean"
	default:
		return "number"
	}
}

// AuthState is the lifecycle state of the client-side auth controller.
type AuthState string

const (
	StateLoading         AuthState = "loading"
	StateAuthenticated   AuthState = "authenticated"
	StateMalformed       AuthState = "malformed"
	StateUnauthenticated AuthState = "unauthenticated"
	StateDegraded        AuthState = "degraded"
)

// DegradedReason explains why the controller left the loading state without
// a confirmed answer.
type DegradedReason string

const (
	ReasonNone         DegradedReason = ""
	ReasonLoadTimeout  DegradedReason = "load_timeout"
	ReasonRetryCeiling DegradedReason = "retry_ceiling"
	ReasonManual       DegradedReason = "manual"
)

// RecoveryAction is an affordance offered to the user when auth is stuck.
type RecoveryAction string

const (
	RecoveryContinue    RecoveryAction = "continue"
	RecoveryRefreshAuth RecoveryAction = "refresh_auth"
	RecoverySignOut     RecoveryAction = "sign_out"
)
