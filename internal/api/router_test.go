package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const testSecret = "test-secret"

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubCheckout struct {
	webhookErr error
}

func (s *stubCheckout) CreateSession(_ context.Context, in ports.CreateSessionInput) (*ports.CreateSessionResult, error) {
	return &ports.CreateSessionResult{SessionID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (s *stubCheckout) HandleWebhook(context.Context, []byte, string) (ports.WebhookOutcome, error) {
	if s.webhookErr != nil {
		return "", s.webhookErr
	}
	return ports.WebhookProcessed, nil
}

func (s *stubCheckout) Invoices(context.Context, string, []string) ([]domain.Invoice, error) {
	return nil, nil
}

type stubProjects struct {
	admins     map[string]bool
	confirmErr error
	updateErr  error
}

func (s *stubProjects) Reconcile(context.Context, *domain.CheckoutSession, domain.ProjectSource) (*ports.ReconcileResult, error) {
	return nil, errors.New("not used")
}

func (s *stubProjects) ConfirmFromClient(_ context.Context, in ports.ConfirmInput) (*ports.ReconcileResult, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return &ports.ReconcileResult{Project: &domain.Project{ID: "p1", CheckoutSessionID: in.SessionID}, Created: true}, nil
}

func (s *stubProjects) ListForClient(_ context.Context, userID string) ([]*domain.Project, error) {
	return []*domain.Project{{ID: "p1", ClientID: userID}}, nil
}

func (s *stubProjects) ListAll(context.Context, int) ([]*domain.Project, error) {
	return []*domain.Project{{ID: "p1"}, {ID: "p2"}}, nil
}

func (s *stubProjects) UpdateStatus(_ context.Context, id string, to domain.ProjectStatus) (*domain.Project, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &domain.Project{ID: id, Status: to}, nil
}

func (s *stubProjects) Profile(_ context.Context, userID string) (*domain.Profile, error) {
	role := domain.RoleClient
	if s.admins[userID] {
		role = domain.RoleAdmin
	}
	return &domain.Profile{UserID: userID, Role: role}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type routerFixture struct {
	checkout *stubCheckout
	projects *stubProjects
}

func (f *routerFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	e, err := NewRouter(Deps{
		Checkout:   f.checkout,
		Projects:   f.projects,
		JWTSecret:  testSecret,
		CORSOrigin: "https://app.example.com",
		Registry:   prometheus.NewRegistry(),
		Log:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newRouterFixture() *routerFixture {
	return &routerFixture{
		checkout: &stubCheckout{},
		projects: &stubProjects{admins: map[string]bool{"admin_1": true}},
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
		// Claims never grant admin access on their own.
		"role": "admin",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRouter_CreateSession(t *testing.T) {
	f := newRouterFixture()
	rec := f.do(t, http.MethodPost, "/api/stripe/create-session",
		`{"serviceId":"svc_1","serviceTitle":"Landing Page","price":1490,"userId":"u1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_CreateSession_Invalid(t *testing.T) {
	f := newRouterFixture()
	rec := f.do(t, http.MethodPost, "/api/stripe/create-session", `{"serviceId":"svc_1"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "required") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newRouterFixture()
	e, err := NewRouter(Deps{
		Checkout: f.checkout, Projects: f.projects, JWTSecret: testSecret,
		CORSOrigin: "https://app.example.com", Registry: prometheus.NewRegistry(), Log: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/stripe/create-session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRouter_WebhookStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("verify: %w", domain.ErrInvalidSignature), http.StatusBadRequest},
		{errors.New("mongo down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newRouterFixture()
		f.checkout.webhookErr = tc.err
		rec := f.do(t, http.MethodPost, "/api/stripe/webhook", `{"id":"evt_1"}`, "")
		if rec.Code != tc.want {
			t.Fatalf("err %v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestRouter_UnexpectedErrorNotLeaked(t *testing.T) {
	f := newRouterFixture()
	f.checkout.webhookErr = errors.New("dial tcp 10.0.0.3:27017: refused")
	rec := f.do(t, http.MethodPost, "/api/stripe/webhook", `{}`, "")
	if msg := errorMessage(t, rec); msg != "internal server error" {
		t.Fatalf("internal detail leaked: %s", msg)
	}
}

func TestRouter_ProjectsRequireToken(t *testing.T) {
	f := newRouterFixture()
	if rec := f.do(t, http.MethodGet, "/api/projects", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/projects", "", tokenFor(t, "u1")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_ConfirmErrors(t *testing.T) {
	cases := map[error]int{
		domain.ErrForbidden:         http.StatusForbidden,
		domain.ErrPaymentIncomplete: http.StatusConflict,
		domain.ErrCheckoutNotFound:  http.StatusNotFound,
	}
	for sentinel, want := range cases {
		f := newRouterFixture()
		f.projects.confirmErr = fmt.Errorf("confirm cs_1: %w", sentinel)
		rec := f.do(t, http.MethodPost, "/api/projects/confirm", `{"sessionId":"cs_1"}`, tokenFor(t, "u1"))
		if rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", sentinel, want, rec.Code)
		}
	}
}

func TestRouter_AdminUsesProfileRole(t *testing.T) {
	f := newRouterFixture()
	if rec := f.do(t, http.MethodGet, "/api/admin/projects", "", tokenFor(t, "u1")); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a client, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/admin/projects", "", tokenFor(t, "admin_1")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an admin, got %d", rec.Code)
	}
}

func TestRouter_InvalidTransition(t *testing.T) {
	f := newRouterFixture()
	f.projects.updateErr = fmt.Errorf("update status: %w", domain.ErrInvalidTransition)
	rec := f.do(t, http.MethodPatch, "/api/admin/projects/p1/status", `{"status":"completed"}`, tokenFor(t, "admin_1"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	f := newRouterFixture()
	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		if rec := f.do(t, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouter_MetricsRegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := Deps{
		Checkout: &stubCheckout{}, Projects: &stubProjects{}, JWTSecret: testSecret,
		CORSOrigin: "https://app.example.com", Registry: reg, Log: zerolog.Nop(),
	}
	if _, err := NewRouter(deps); err != nil {
		t.Fatalf("first router: %v", err)
	}
	if _, err := NewRouter(deps); err == nil {
		t.Fatal("expected an error when the request metrics are already registered")
	}
}
