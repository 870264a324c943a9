package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const (
	signatureHeader = "Stripe-Signature"
	// maxWebhookBody caps the payload read before signature verification.
	maxWebhookBody = 64 << 10
)

// WebhookHandler receives payment provider deliveries. The body must reach
// the verifier byte for byte, so it is never bound.
type WebhookHandler struct {
	svc ports.CheckoutService
}

func NewWebhookHandler(svc ports.CheckoutService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// Handle godoc
// @Summary      Receive a payment webhook
// @Description  Verifies the signature and reconciles paid checkouts into projects.
// @Tags         stripe
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature  header    string  true  "Webhook signature"
// @Success      200               {object}  webhookResponse
// @Failure      400               {object}  errorBody
// @Failure      500               {object}  errorBody
// @Router       /api/stripe/webhook [post]
func (h *WebhookHandler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	outcome, err := h.svc.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get(signatureHeader))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, webhookResponse{Received: true, Outcome: string(outcome)})
}
