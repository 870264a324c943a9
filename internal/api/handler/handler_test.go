package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/api/middleware"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubCheckoutService struct {
	createFn   func(ctx context.Context, in ports.CreateSessionInput) (*ports.CreateSessionResult, error)
	webhookFn  func(ctx context.Context, payload []byte, signature string) (ports.WebhookOutcome, error)
	invoicesFn func(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error)
}

func (s *stubCheckoutService) CreateSession(ctx context.Context, in ports.CreateSessionInput) (*ports.CreateSessionResult, error) {
	return s.createFn(ctx, in)
}

func (s *stubCheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (ports.WebhookOutcome, error) {
	return s.webhookFn(ctx, payload, signature)
}

func (s *stubCheckoutService) Invoices(ctx context.Context, userID string, sessionIDs []string) ([]domain.Invoice, error) {
	return s.invoicesFn(ctx, userID, sessionIDs)
}

type stubProjectService struct {
	confirmFn func(ctx context.Context, in ports.ConfirmInput) (*ports.ReconcileResult, error)
	listFn    func(ctx context.Context, userID string) ([]*domain.Project, error)
	listAllFn func(ctx context.Context, limit int) ([]*domain.Project, error)
	updateFn  func(ctx context.Context, id string, to domain.ProjectStatus) (*domain.Project, error)
	profileFn func(ctx context.Context, userID string) (*domain.Profile, error)
}

func (s *stubProjectService) Reconcile(context.Context, *domain.CheckoutSession, domain.ProjectSource) (*ports.ReconcileResult, error) {
	return nil, errors.New("not used")
}

func (s *stubProjectService) ConfirmFromClient(ctx context.Context, in ports.ConfirmInput) (*ports.ReconcileResult, error) {
	return s.confirmFn(ctx, in)
}

func (s *stubProjectService) ListForClient(ctx context.Context, userID string) ([]*domain.Project, error) {
	return s.listFn(ctx, userID)
}

func (s *stubProjectService) ListAll(ctx context.Context, limit int) ([]*domain.Project, error) {
	return s.listAllFn(ctx, limit)
}

func (s *stubProjectService) UpdateStatus(ctx context.Context, id string, to domain.ProjectStatus) (*domain.Project, error) {
	return s.updateFn(ctx, id, to)
}

func (s *stubProjectService) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.profileFn(ctx, userID)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return resp
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

func TestCheckoutHandler_CreateSession_Success(t *testing.T) {
	stub := &stubCheckoutService{
		createFn: func(_ context.Context, in ports.CreateSessionInput) (*ports.CreateSessionResult, error) {
			if in.ServiceID != "svc_1" || in.ServiceTitle != "Landing Page" || in.Price != 1490 || in.UserID != "u1" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &ports.CreateSessionResult{SessionID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/stripe/create-session",
		`{"serviceId":"svc_1","serviceTitle":"Landing Page","price":1490,"userId":"u1"}`)

	if err := NewCheckoutHandler(stub).CreateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["sessionId"] != "cs_1" || resp["url"] != "https://checkout.example/cs_1" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestCheckoutHandler_CreateSession_ValidationError(t *testing.T) {
	stub := &stubCheckoutService{
		createFn: func(context.Context, ports.CreateSessionInput) (*ports.CreateSessionResult, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	}
	c, _ := newContext(http.MethodPost, "/api/stripe/create-session", `{"serviceId":"svc_1","price":0}`)

	err := NewCheckoutHandler(stub).CreateSession(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if !strings.Contains(err.Error(), "serviceTitle is required") {
		t.Fatalf("expected field name in message, got %v", err)
	}
}

func TestCheckoutHandler_Invoices(t *testing.T) {
	stub := &stubCheckoutService{
		invoicesFn: func(_ context.Context, userID string, ids []string) ([]domain.Invoice, error) {
			if userID != "u1" || len(ids) != 2 {
				t.Fatalf("unexpected args: %s %v", userID, ids)
			}
			return []domain.Invoice{{ID: "in_1"}}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/stripe/get-invoices", `{"userId":"u1","sessionIds":["cs_1","cs_2"]}`)

	if err := NewCheckoutHandler(stub).Invoices(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	invoices, ok := decode(t, rec)["invoices"].([]any)
	if !ok || len(invoices) != 1 {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
}

func TestCheckoutHandler_Invoices_EmptySessions(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/stripe/get-invoices", `{"userId":"u1","sessionIds":[]}`)

	err := NewCheckoutHandler(&stubCheckoutService{}).Invoices(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

func TestWebhookHandler_PassesRawBody(t *testing.T) {
	raw := `{"id":"evt_1", "type":"checkout.session.completed"}`
	stub := &stubCheckoutService{
		webhookFn: func(_ context.Context, payload []byte, signature string) (ports.WebhookOutcome, error) {
			if string(payload) != raw {
				t.Fatalf("payload altered: %s", payload)
			}
			if signature != "t=1,v1=abc" {
				t.Fatalf("unexpected signature: %s", signature)
			}
			return ports.WebhookProcessed, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/stripe/webhook", raw)
	c.Request().Header.Set("Stripe-Signature", "t=1,v1=abc")

	if err := NewWebhookHandler(stub).Handle(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["received"] != true || resp["outcome"] != "processed" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestWebhookHandler_PropagatesSignatureError(t *testing.T) {
	stub := &stubCheckoutService{
		webhookFn: func(context.Context, []byte, string) (ports.WebhookOutcome, error) {
			return "", domain.ErrInvalidSignature
		},
	}
	c, _ := newContext(http.MethodPost, "/api/stripe/webhook", `{}`)

	if err := NewWebhookHandler(stub).Handle(c); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestWebhookHandler_TooLarge(t *testing.T) {
	stub := &stubCheckoutService{
		webhookFn: func(context.Context, []byte, string) (ports.WebhookOutcome, error) {
			t.Fatalf("service must not be called")
			return "", nil
		},
	}
	c, _ := newContext(http.MethodPost, "/api/stripe/webhook", strings.Repeat("x", maxWebhookBody+1))

	if code := httpCode(t, NewWebhookHandler(stub).Handle(c)); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func TestProjectHandler_Confirm(t *testing.T) {
	stub := &stubProjectService{
		confirmFn: func(_ context.Context, in ports.ConfirmInput) (*ports.ReconcileResult, error) {
			if in.UserID != "u1" || in.SessionID != "cs_1" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &ports.ReconcileResult{Project: &domain.Project{ID: "p1"}, Created: false}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/projects/confirm", `{"sessionId":"cs_1"}`)
	c.Set(middleware.CtxUserID, "u1")

	if err := NewProjectHandler(stub).Confirm(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["created"] != false {
		t.Fatalf("expected created=false, got %+v", resp)
	}
	if project, ok := resp["project"].(map[string]any); !ok || project["id"] != "p1" {
		t.Fatalf("unexpected project: %+v", resp)
	}
}

func TestProjectHandler_Confirm_RequiresUser(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/projects/confirm", `{"sessionId":"cs_1"}`)

	if code := httpCode(t, NewProjectHandler(&stubProjectService{}).Confirm(c)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestProjectHandler_ListMine_EmptyIsArray(t *testing.T) {
	stub := &stubProjectService{
		listFn: func(context.Context, string) ([]*domain.Project, error) { return nil, nil },
	}
	c, rec := newContext(http.MethodGet, "/api/projects", "")
	c.Set(middleware.CtxUserID, "u1")

	if err := NewProjectHandler(stub).ListMine(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"projects":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestProjectHandler_ListAll_Limit(t *testing.T) {
	var got int
	stub := &stubProjectService{
		listAllFn: func(_ context.Context, limit int) ([]*domain.Project, error) {
			got = limit
			return []*domain.Project{{ID: "p1"}}, nil
		},
	}
	c, _ := newContext(http.MethodGet, "/api/admin/projects?limit=20", "")
	if err := NewProjectHandler(stub).ListAll(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got != 20 {
		t.Fatalf("expected limit 20, got %d", got)
	}

	c, _ = newContext(http.MethodGet, "/api/admin/projects?limit=abc", "")
	if code := httpCode(t, NewProjectHandler(stub).ListAll(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestProjectHandler_UpdateStatus(t *testing.T) {
	stub := &stubProjectService{
		updateFn: func(_ context.Context, id string, to domain.ProjectStatus) (*domain.Project, error) {
			if id != "p1" || to != domain.ProjectInProgress {
				t.Fatalf("unexpected args: %s %s", id, to)
			}
			return &domain.Project{ID: id, Status: to}, nil
		},
	}
	c, rec := newContext(http.MethodPatch, "/api/admin/projects/p1/status", `{"status":"in_progress"}`)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if err := NewProjectHandler(stub).UpdateStatus(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if decode(t, rec)["status"] != "in_progress" {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
}

func TestProjectHandler_UpdateStatus_UnknownStatus(t *testing.T) {
	c, _ := newContext(http.MethodPatch, "/api/admin/projects/p1/status", `{"status":"shipped"}`)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if code := httpCode(t, NewProjectHandler(&stubProjectService{}).UpdateStatus(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestProjectHandler_Me(t *testing.T) {
	stub := &stubProjectService{
		profileFn: func(_ context.Context, userID string) (*domain.Profile, error) {
			return &domain.Profile{UserID: userID, Role: domain.RoleAdmin}, nil
		},
	}
	c, rec := newContext(http.MethodGet, "/api/me", "")
	c.Set(middleware.CtxUserID, "u1")
	c.Set(middleware.CtxEmail, "alice@example.com")

	if err := NewProjectHandler(stub).Me(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["id"] != "u1" || resp["email"] != "alice@example.com" || resp["is_admin"] != true {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealth_Readiness(t *testing.T) {
	ok := DependencyCheck{Name: "mongodb", Ping: func(context.Context) error { return nil }}
	down := DependencyCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}

	c, rec := newContext(http.MethodGet, "/health/ready", "")
	if err := NewHealthDependenciesHandler(ok).Readiness(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, rec = newContext(http.MethodGet, "/health/ready", "")
	if err := NewHealthDependenciesHandler(ok, down).Readiness(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	resp := decode(t, rec)
	deps, _ := resp["dependencies"].(map[string]any)
	redis, _ := deps["redis"].(map[string]any)
	if resp["status"] != "degraded" || redis["status"] != "unhealthy" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}
