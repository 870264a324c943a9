package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/api/middleware"
)

// ctxUserID extracts the caller injected by the Auth middleware and fails
// fast before any service call when it is missing.
func ctxUserID(c echo.Context) (string, error) {
	userID, _ := c.Get(middleware.CtxUserID).(string)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return userID, nil
}

// bindValid binds the request body into req and runs the registered
// validator.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if c.Echo().Validator == nil {
		return nil
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
