package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// CheckoutHandler serves the hosted-checkout endpoints called from the
// browser before and after payment.
type CheckoutHandler struct {
	svc ports.CheckoutService
}

func NewCheckoutHandler(svc ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{svc: svc}
}

type createSessionRequest struct {
	ServiceID    string `json:"serviceId" validate:"required"`
	ServiceTitle string `json:"serviceTitle" validate:"required"`
	Price        int64  `json:"price" validate:"gt=0"`
	UserID       string `json:"userId" validate:"required"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type invoicesRequest struct {
	UserID     string   `json:"userId" validate:"required"`
	SessionIDs []string `json:"sessionIds" validate:"required,min=1,max=100"`
}

type invoicesResponse struct {
	Invoices []domain.Invoice `json:"invoices"`
}

// CreateSession godoc
// @Summary      Open a hosted checkout session
// @Tags         stripe
// @Accept       json
// @Produce      json
// @Param        body  body      createSessionRequest  true  "Purchased offer"
// @Success      200   {object}  createSessionResponse
// @Failure      400   {object}  errorBody
// @Failure      500   {object}  errorBody
// @Router       /api/stripe/create-session [post]
func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	res, err := h.svc.CreateSession(c.Request().Context(), ports.CreateSessionInput{
		ServiceID:    req.ServiceID,
		ServiceTitle: req.ServiceTitle,
		Price:        req.Price,
		UserID:       req.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, createSessionResponse{SessionID: res.SessionID, URL: res.URL})
}

// Invoices godoc
// @Summary      List invoices for past checkout sessions
// @Tags         stripe
// @Accept       json
// @Produce      json
// @Param        body  body      invoicesRequest  true  "Owner and session ids"
// @Success      200   {object}  invoicesResponse
// @Failure      400   {object}  errorBody
// @Router       /api/stripe/get-invoices [post]
func (h *CheckoutHandler) Invoices(c echo.Context) error {
	var req invoicesRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	invoices, err := h.svc.Invoices(c.Request().Context(), req.UserID, req.SessionIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invoicesResponse{Invoices: invoices})
}
