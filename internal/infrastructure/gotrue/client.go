// Package gotrue is a REST client for the hosted identity provider
// (Supabase Auth / GoTrue).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// ErrMissingURL indicates that the client was configured without a base URL.
var ErrMissingURL = errors.New("gotrue: base url is required")

// Options configures the identity client.
type Options struct {
	// BaseURL is the project URL, e.g. https://<ref>.supabase.co.
	BaseURL        string
	AnonKey        string
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// Client implements ports.IdentityProvider.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	log        zerolog.Logger
}

// APIError is a non-2xx answer from the provider. It unwraps to the domain
// error the status maps to.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gotrue: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         json.RawMessage `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL + "/auth/v1",
		anonKey:    strings.TrimSpace(opts.AnonKey),
		httpClient: httpClient,
		log:        opts.Logger,
	}, nil
}

// SignInWithPassword runs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	body := map[string]string{"email": email, "password": password}
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &tr, domain.ErrInvalidCredentials); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return tr.session(), nil
}

// SignUp registers an account. A nil session means e-mail confirmation is
// pending.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.AuthSession, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &tr, domain.ErrInvalidCredentials); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, nil
	}
	return tr.session(), nil
}

// ResetPasswordForEmail sends the recovery e-mail.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	if err := c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil, domain.ErrInvalidCredentials); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// GetUser returns the raw user behind accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &raw, domain.ErrUnauthenticated); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return raw, nil
}

// UpdateUser changes e-mail, password or metadata of the signed-in user.
func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs domain.UserAttributes) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, "/user", accessToken, attrs, &raw, domain.ErrUnauthenticated); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return raw, nil
}

// RefreshSession exchanges a refresh token for a new session. A rejected
// refresh token maps to domain.ErrUnauthenticated.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.AuthSession, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &tr, domain.ErrUnauthenticated); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return tr.session(), nil
}

// SignOut revokes the session server-side. An already invalid token counts as
// signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil, domain.ErrUnauthenticated)
	if err != nil && !errors.Is(err, domain.ErrUnauthenticated) {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// do performs one request. Client errors (400, 401, 403, 422) unwrap to
// rejected; server errors and transport failures unwrap to
// domain.ErrProviderUnavailable.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any, rejected error) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.anonKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrProviderUnavailable, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", strings.SplitN(path, "?", 2)[0]).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("identity request")

	if resp.StatusCode >= 300 {
		return c.apiError(resp.StatusCode, data, rejected)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) apiError(status int, data []byte, rejected error) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)
	msg := firstNonEmpty(er.ErrorDescription, er.Msg, er.Message, er.Error, http.StatusText(status))

	kind := domain.ErrProviderUnavailable
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		kind = rejected
	case http.StatusTooManyRequests:
		kind = domain.ErrRateLimited
	}
	return &APIError{Status: status, Message: msg, kind: kind}
}

func (tr tokenResponse) session() *domain.AuthSession {
	expiresAt := tr.ExpiresAt
	if expiresAt == 0 && tr.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + tr.ExpiresIn
	}
	return &domain.AuthSession{
		Tokens: domain.TokenPair{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresAt:    expiresAt,
		},
		User: tr.User,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
