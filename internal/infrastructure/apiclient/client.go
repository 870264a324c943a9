// Package apiclient talks to the agency API server on behalf of agencyctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// ErrMissingURL indicates that the client was configured without a base URL.
var ErrMissingURL = errors.New("apiclient: base url is required")

const maxResponseBody = 1 << 20

// Options configures the API client.
type Options struct {
	BaseURL string
	// Tokens supplies the bearer token for authenticated calls.
	Tokens         ports.TokenStore
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// Client is a JSON client of the API server. It implements
// ports.ProfileLookup.
type Client struct {
	baseURL    string
	tokens     ports.TokenStore
	httpClient *http.Client
	log        zerolog.Logger
}

// APIError is a non-2xx answer. It unwraps to the domain error the status
// maps to.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func New(opts Options) (*Client, error) {
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
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		log:        opts.Logger,
	}, nil
}

type meResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

// Profile returns the profile of the user owning accessToken.
func (c *Client) Profile(ctx context.Context, accessToken string) (*domain.Profile, error) {
	var me meResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", accessToken, nil, &me); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	role := me.Role
	if me.IsAdmin {
		role = domain.RoleAdmin
	}
	if role == "" {
		role = domain.RoleClient
	}
	return &domain.Profile{UserID: me.ID, Email: me.Email, Role: role}, nil
}

type createSessionRequest struct {
	ServiceID    string `json:"serviceId"`
	ServiceTitle string `json:"serviceTitle"`
	Price        int64  `json:"price"`
	UserID       string `json:"userId"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession opens a hosted checkout for offer.
func (c *Client) CreateCheckoutSession(ctx context.Context, offer domain.ServiceOffer, userID string) (*ports.CreateSessionResult, error) {
	in := createSessionRequest{
		ServiceID:    offer.ServiceID,
		ServiceTitle: offer.Title,
		Price:        offer.Price,
		UserID:       userID,
	}
	var out createSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/stripe/create-session", "", in, &out); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &ports.CreateSessionResult{SessionID: out.SessionID, URL: out.URL}, nil
}

type confirmResponse struct {
	Project *domain.Project `json:"project"`
	Created bool            `json:"created"`
}

// ConfirmProject asks the server to record the project of a paid checkout.
func (c *Client) ConfirmProject(ctx context.Context, sessionID string) (*ports.ReconcileResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("confirm project: %w", err)
	}
	var out confirmResponse
	if err := c.do(ctx, http.MethodPost, "/api/projects/confirm", token, map[string]string{"sessionId": sessionID}, &out); err != nil {
		return nil, fmt.Errorf("confirm project: %w", err)
	}
	if out.Project == nil {
		return nil, fmt.Errorf("confirm project: %w: empty project", domain.ErrServerUnavailable)
	}
	return &ports.ReconcileResult{Project: out.Project, Created: out.Created}, nil
}

type projectsResponse struct {
	Projects []*domain.Project `json:"projects"`
}

// ListProjects returns the caller's projects, or every project when admin is
// set.
func (c *Client) ListProjects(ctx context.Context, admin bool, limit int) ([]*domain.Project, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	path := "/api/projects"
	if admin {
		path = "/api/admin/projects"
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}
	}
	var out projectsResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out.Projects, nil
}

// UpdateProjectStatus moves a project to another status. Admin only.
func (c *Client) UpdateProjectStatus(ctx context.Context, id string, to domain.ProjectStatus) (*domain.Project, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("update project status: %w", err)
	}
	var out domain.Project
	if err := c.do(ctx, http.MethodPatch, "/api/admin/projects/"+id+"/status", token, map[string]string{"status": string(to)}, &out); err != nil {
		return nil, fmt.Errorf("update project status: %w", err)
	}
	return &out, nil
}

type invoicesRequest struct {
	UserID     string   `json:"userId"`
	SessionIDs []string `json:"sessionIds"`
}

type invoicesResponse struct {
	Invoices []domain.Invoice `json:"invoices"`
}

// Invoices lists the invoices behind the given checkout sessions.
func (c *Client) Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error) {
	var out invoicesResponse
	if err := c.do(ctx, http.MethodPost, "/api/stripe/get-invoices", "", invoicesRequest{UserID: userID, SessionIDs: sessionIDs}, &out); err != nil {
		return nil, fmt.Errorf("invoices: %w", err)
	}
	return out.Invoices, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", domain.ErrNoSession
	}
	pair, err := c.tokens.Load(ctx)
	if err != nil {
		return "", err
	}
	if !pair.Valid() {
		return "", domain.ErrNoSession
	}
	return pair.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
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
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrServerUnavailable, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", strings.SplitN(path, "?", 2)[0]).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("api request")

	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(status int, data []byte) error {
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	msg := envelope.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := domain.ErrServerUnavailable
	switch status {
	case http.StatusBadRequest:
		kind = domain.ErrInvalidCheckout
	case http.StatusUnauthorized:
		kind = domain.ErrUnauthenticated
	case http.StatusForbidden:
		kind = domain.ErrForbidden
	case http.StatusNotFound:
		kind = domain.ErrProjectNotFound
		if strings.Contains(msg, "checkout") {
			kind = domain.ErrCheckoutNotFound
		}
	case http.StatusConflict:
		kind = domain.ErrPaymentIncomplete
	case http.StatusUnprocessableEntity:
		kind = domain.ErrInvalidTransition
	case http.StatusTooManyRequests:
		kind = domain.ErrRateLimited
	}
	return &APIError{Status: status, Message: msg, kind: kind}
}
