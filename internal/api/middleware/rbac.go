package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// RoleResolver returns the application profile of a user.
type RoleResolver interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
}

// RBAC enforces role-based access control. The role comes from the profile
// store, never from token claims, and replaces the claim role in context.
func RBAC(resolver RoleResolver, allowedRoles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get(CtxUserID).(string)
			if userID == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}

			profile, err := resolver.Profile(c.Request().Context(), userID)
			if err != nil {
				return err
			}
			if _, ok := allowed[profile.Role]; !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			c.Set(CtxRole, profile.Role)
			return next(c)
		}
	}
}
