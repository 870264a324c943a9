package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/api/middleware"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// ProjectHandler serves project reads, the success-page fallback and the
// admin status updates.
type ProjectHandler struct {
	svc ports.ProjectService
}

func NewProjectHandler(svc ports.ProjectService) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

type confirmRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type confirmResponse struct {
	Project *domain.Project `json:"project"`
	Created bool            `json:"created"`
}

type projectsResponse struct {
	Projects []*domain.Project `json:"projects"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending in_progress review delivered completed cancelled"`
}

type meResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"is_admin"`
}

// Confirm godoc
// @Summary      Record the project of a paid checkout
// @Description  Success-page fallback. Answers created=false when the webhook already recorded it.
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      confirmRequest  true  "Checkout session"
// @Success      200   {object}  confirmResponse
// @Failure      400   {object}  errorBody
// @Failure      403   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Router       /api/projects/confirm [post]
func (h *ProjectHandler) Confirm(c echo.Context) error {
	userID, err := ctxUserID(c)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	res, err := h.svc.ConfirmFromClient(c.Request().Context(), ports.ConfirmInput{UserID: userID, SessionID: req.SessionID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, confirmResponse{Project: res.Project, Created: res.Created})
}

// ListMine godoc
// @Summary      List the caller's projects
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  projectsResponse
// @Router       /api/projects [get]
func (h *ProjectHandler) ListMine(c echo.Context) error {
	userID, err := ctxUserID(c)
	if err != nil {
		return err
	}
	projects, err := h.svc.ListForClient(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projectsResponse{Projects: nonNil(projects)})
}

// ListAll godoc
// @Summary      List every project
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Page size (max 100)"
// @Success      200    {object}  projectsResponse
// @Failure      403    {object}  errorBody
// @Router       /api/admin/projects [get]
func (h *ProjectHandler) ListAll(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	projects, err := h.svc.ListAll(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projectsResponse{Projects: nonNil(projects)})
}

// UpdateStatus godoc
// @Summary      Move a project to another status
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string               true  "Project id"
// @Param        body  body      updateStatusRequest  true  "Target status"
// @Success      200   {object}  domain.Project
// @Failure      404   {object}  errorBody
// @Failure      422   {object}  errorBody
// @Router       /api/admin/projects/{id}/status [patch]
func (h *ProjectHandler) UpdateStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	project, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("id"), domain.ProjectStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// Me godoc
// @Summary      Profile of the caller
// @Tags         profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  meResponse
// @Router       /api/me [get]
func (h *ProjectHandler) Me(c echo.Context) error {
	userID, err := ctxUserID(c)
	if err != nil {
		return err
	}
	profile, err := h.svc.Profile(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	email := profile.Email
	if email == "" {
		email, _ = c.Get(middleware.CtxEmail).(string)
	}
	return c.JSON(http.StatusOK, meResponse{
		ID:      profile.UserID,
		Email:   email,
		Role:    profile.Role,
		IsAdmin: profile.IsAdmin(),
	})
}

func nonNil(projects []*domain.Project) []*domain.Project {
	if projects == nil {
		return []*domain.Project{}
	}
	return projects
}

// errorBody documents the error envelope rendered by the API error handler.
type errorBody struct {
	Error string `json:"error"`
}
