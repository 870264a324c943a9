package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{BaseURL: srv.URL + "/", AnonKey: "anon", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Token grants
// ---------------------------------------------------------------------------

func TestClient_SignInWithPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@b.c" || body["password"] != "secret" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":1700000000,"user":{"id":"u1","email":"a@b.c"}}`))
	})

	s, err := c.SignInWithPassword(context.Background(), "a@b.c", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tokens.AccessToken != "at" || s.Tokens.RefreshToken != "rt" || s.Tokens.ExpiresAt != 1700000000 {
		t.Errorf("unexpected tokens: %+v", s.Tokens)
	}
	u, err := domain.DecodeUser(s.User)
	if err != nil || u.ID != "u1" {
		t.Errorf("unexpected user: %+v, %v", u, err)
	}
}

func TestClient_SignInWithPassword_BadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.SignInWithPassword(context.Background(), "a@b.c", "wrong")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid login credentials" {
		t.Errorf("expected provider message, got %v", err)
	}
}

func TestClient_RefreshSession_ExpiresInFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant %q", r.URL.Query().Get("grant_type"))
		}
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_in":3600,"user":{"id":"u1"}}`))
	})

	s, err := c.RefreshSession(context.Background(), "rt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tokens.ExpiresAt == 0 {
		t.Error("expires_at must be derived from expires_in")
	}
}

func TestClient_RefreshSession_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"Invalid Refresh Token"}`))
	})

	if _, err := c.RefreshSession(context.Background(), "stale"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := c.RefreshSession(context.Background(), "rt"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sign up
// ---------------------------------------------------------------------------

func TestClient_SignUp_ConfirmationPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		data, _ := body["data"].(map[string]any)
		if data["full_name"] != "Ada" {
			t.Errorf("metadata not forwarded: %v", body)
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","confirmation_sent_at":"2024-01-01T00:00:00Z"}`))
	})

	s, err := c.SignUp(context.Background(), "a@b.c", "secret", map[string]any{"full_name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil session while confirmation is pending, got %+v", s)
	}
}

// ---------------------------------------------------------------------------
// User endpoints
// ---------------------------------------------------------------------------

func TestClient_GetUser_ReturnsRawValue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`"u1"`))
	})

	raw, err := c.GetUser(context.Background(), "at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := domain.DecodeUser(raw); !errors.Is(err, domain.ErrMalformedUser) {
		t.Errorf("a bare string user must stay detectable, got %v", err)
	}
}

func TestClient_GetUser_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid JWT"}`))
	})

	if _, err := c.GetUser(context.Background(), "expired"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestClient_UpdateUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var attrs domain.UserAttributes
		_ = json.NewDecoder(r.Body).Decode(&attrs)
		if attrs.Data["onboarded"] != true {
			t.Errorf("unexpected attrs %+v", attrs)
		}
		_, _ = w.Write([]byte(`{"id":"u1","user_metadata":{"onboarded":true}}`))
	})

	raw, err := c.UpdateUser(context.Background(), "at", domain.UserAttributes{Data: map[string]any{"onboarded": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := domain.DecodeUser(raw)
	if err != nil || !u.Onboarded() {
		t.Errorf("unexpected user: %+v, %v", u, err)
	}
}

func TestClient_ResetPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/recover" || r.URL.Query().Get("redirect_to") != "https://app.example.com/reset" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := c.ResetPasswordForEmail(context.Background(), "a@b.c", "https://app.example.com/reset"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_SignOut_ExpiredTokenIsFine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := c.SignOut(context.Background(), "expired"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
}
