package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/atelier-nova/agency-platform/docs"
	"github.com/atelier-nova/agency-platform/internal/api/handler"
	"github.com/atelier-nova/agency-platform/internal/api/middleware"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const stripePrefix = "/api/stripe"

// Deps carries everything the router wires into handlers.
type Deps struct {
	Checkout  ports.CheckoutService
	Projects  ports.ProjectService
	JWTSecret string
	// CORSOrigin is the only browser origin allowed on /api/stripe.
	CORSOrigin string
	Checks     []handler.DependencyCheck
	// Registry receives the HTTP request metrics. Nil means the default
	// Prometheus registry.
	Registry *prometheus.Registry
	Log      zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Deps) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	promCfg := echoprometheus.MiddlewareConfig{Namespace: "agency", Subsystem: "http"}
	handlerCfg := echoprometheus.HandlerConfig{}
	if deps.Registry != nil {
		promCfg.Registerer = deps.Registry
		handlerCfg.Gatherer = deps.Registry
	}
	promMW, err := promCfg.ToMiddleware()
	if err != nil {
		return nil, err
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Log))
	e.Use(promMW)
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, stripePrefix+"/")
		},
		AllowOrigins: []string{deps.CORSOrigin},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	// --- Handlers ---
	checkoutHandler := handler.NewCheckoutHandler(deps.Checkout)
	webhookHandler := handler.NewWebhookHandler(deps.Checkout)
	projectHandler := handler.NewProjectHandler(deps.Projects)
	authMiddleware := middleware.Auth(deps.JWTSecret)
	adminOnly := middleware.RBAC(deps.Projects, domain.RoleAdmin)

	// --- Payment routes (browser + provider, no auth) ---
	stripe := e.Group(stripePrefix)
	stripe.POST("/create-session", checkoutHandler.CreateSession)
	stripe.POST("/get-invoices", checkoutHandler.Invoices)
	stripe.POST("/webhook", webhookHandler.Handle)

	// --- Authenticated routes ---
	authed := e.Group("/api", authMiddleware)
	authed.GET("/me", projectHandler.Me)
	authed.GET("/projects", projectHandler.ListMine)
	authed.POST("/projects/confirm", projectHandler.Confirm)

	admin := authed.Group("/admin", adminOnly)
	admin.GET("/projects", projectHandler.ListAll)
	admin.PATCH("/projects/:id/status", projectHandler.UpdateStatus)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks...)

	e.GET("/health", healthHandler.Liveness)            // liveness: is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness: are dependencies up?

	// --- Operations ---
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(handlerCfg))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e, nil
}

// requestLogger logs one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Status >= http.StatusInternalServerError {
				evt = log.Error().Err(v.Error)
			}
			evt.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
